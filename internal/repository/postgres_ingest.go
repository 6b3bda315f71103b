package repository

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/availproject/greatest-indexer-of-all-times/internal/models"
)

// sanitizeForPG strips PostgreSQL-incompatible bytes from a string: null
// bytes (raw or JSON-escaped) and invalid UTF-8 sequences.
func sanitizeForPG(s string) string {
	s = strings.ReplaceAll(s, "\\u0000", "")
	s = strings.ReplaceAll(s, "\\U0000", "")
	if strings.ContainsRune(s, 0) {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

// SaveBatch upserts one block's rows across the three tables inside a
// single transaction: main rows first, then send_message and execute
// children, so the FK from children to main_table never dangles even on
// a batch that fails partway through a prior attempt. ON CONFLICT DO
// UPDATE on all three makes replay of the same batch idempotent, which
// is what makes re-processing highest_indexed_height on resume safe.
func (r *Repository) SaveBatch(ctx context.Context, batch models.BlockBatch) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	mainQuery := fmt.Sprintf(`
		INSERT INTO %s (
			id, block_height, block_hash, block_timestamp,
			ext_index, ext_hash, signature_address,
			pallet_id, variant_id, ext_success, ext_call
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			block_hash        = EXCLUDED.block_hash,
			block_timestamp   = EXCLUDED.block_timestamp,
			ext_hash          = EXCLUDED.ext_hash,
			signature_address = EXCLUDED.signature_address,
			pallet_id         = EXCLUDED.pallet_id,
			variant_id        = EXCLUDED.variant_id,
			ext_success       = EXCLUDED.ext_success,
			ext_call          = EXCLUDED.ext_call
	`, r.tables.Main)

	for _, row := range batch.MainRows {
		var signer any
		if row.SignatureAddress != "" {
			signer = row.SignatureAddress
		}
		if _, err := tx.Exec(ctx, mainQuery,
			row.ID, row.BlockHeight, row.BlockHash, row.BlockTimestamp,
			row.ExtIndex, row.ExtHash, signer,
			row.PalletID, row.VariantID, row.ExtSuccess, sanitizeForPG(row.ExtCall),
		); err != nil {
			return fmt.Errorf("repository: upsert main row %d (height %d): %w", row.ID, row.BlockHeight, err)
		}
	}

	sendMessageQuery := fmt.Sprintf(`
		INSERT INTO %s (id, type, amount, "to")
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			type   = EXCLUDED.type,
			amount = EXCLUDED.amount,
			"to"   = EXCLUDED."to"
	`, r.tables.SendMessage)

	for _, row := range batch.SendMessages {
		var amount any
		if row.Amount != "" {
			amount = row.Amount
		}
		if _, err := tx.Exec(ctx, sendMessageQuery, row.ID, string(row.Type), amount, row.To); err != nil {
			return fmt.Errorf("repository: upsert send_message row %d: %w", row.ID, err)
		}
	}

	executeQuery := fmt.Sprintf(`
		INSERT INTO %s (id, type, amount, "to", slot, message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			type       = EXCLUDED.type,
			amount     = EXCLUDED.amount,
			"to"       = EXCLUDED."to",
			slot       = EXCLUDED.slot,
			message_id = EXCLUDED.message_id
	`, r.tables.Execute)

	for _, row := range batch.Executes {
		var amount any
		if row.Amount != "" {
			amount = row.Amount
		}
		if _, err := tx.Exec(ctx, executeQuery, row.ID, string(row.Type), amount, row.To, row.Slot, row.MessageID); err != nil {
			return fmt.Errorf("repository: upsert execute row %d: %w", row.ID, err)
		}
	}

	return tx.Commit(ctx)
}
