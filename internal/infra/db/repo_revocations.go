package db

import (
	"context"
	"errors"
	"sort"
	"time"

	"dccgate/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevocationRepository stores the entry > partition > chunk > slice hierarchy.
// Child rows are removed by ON DELETE CASCADE.
type RevocationRepository struct {
	db *gorm.DB
}

func NewRevocationRepository(db *gorm.DB) *RevocationRepository {
	return &RevocationRepository{db: db}
}

func (r *RevocationRepository) ListEntries(ctx context.Context) ([]domain.RevocationEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RevocationEntryModel
	if err := r.db.WithContext(ctx).Order("kid ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RevocationEntry, 0, len(models))
	for _, m := range models {
		out = append(out, entryFromModel(m))
	}
	return out, nil
}

func (r *RevocationRepository) GetEntry(ctx context.Context, kid string) (*domain.RevocationEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model RevocationEntryModel
	err := r.db.WithContext(ctx).Where("kid = ?", kid).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	entry := entryFromModel(model)
	return &entry, nil
}

func (r *RevocationRepository) SaveEntry(ctx context.Context, entry domain.RevocationEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := RevocationEntryModel{
		KID:         entry.KID,
		Mode:        string(entry.Mode),
		HashTypes:   joinHashTypes(entry.HashTypes),
		Expires:     timePtr(entry.Expires),
		LastUpdated: timePtr(entry.LastUpdated),
		UpdatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kid"}},
			DoUpdates: clause.AssignmentColumns([]string{"mode", "hash_types", "expires", "last_updated", "updated_at"}),
		}).
		Create(&model).Error
}

func (r *RevocationRepository) DeleteEntry(ctx context.Context, kid string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Where("kid = ?", kid).Delete(&RevocationEntryModel{}).Error
}

func (r *RevocationRepository) DeleteDescendants(ctx context.Context, kid string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Where("kid = ?", kid).Delete(&RevocationPartitionModel{}).Error
}

func (r *RevocationRepository) ListPartitions(ctx context.Context, kid string) ([]domain.Partition, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RevocationPartitionModel
	err := r.db.WithContext(ctx).
		Preload("Chunks.Slices").
		Where("kid = ?", kid).
		Order("partition_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Partition, 0, len(models))
	for _, m := range models {
		out = append(out, partitionFromModel(m))
	}
	return out, nil
}

// UpsertPartition writes the partition metadata and its chunk and slice
// rows. A slice keeps its payload only while its content hash is unchanged.
func (r *RevocationRepository) UpsertPartition(ctx context.Context, partition domain.Partition) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries int64
		if err := tx.Model(&RevocationEntryModel{}).Where("kid = ?", partition.KID).Count(&entries).Error; err != nil {
			return err
		}
		if entries == 0 {
			return domain.ErrNotFound
		}

		var existing RevocationPartitionModel
		err := tx.Preload("Chunks.Slices").
			Where("kid = ? AND partition_id = ?", partition.KID, partition.ID).
			First(&existing).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := RevocationPartitionModel{
			ID:          newUUID(),
			KID:         partition.KID,
			PartitionID: partition.ID,
			X:           partition.X,
			Y:           partition.Y,
			Expires:     timePtr(partition.Expires),
			LastUpdated: timePtr(partition.LastUpdated),
		}
		if found {
			row.ID = existing.ID
			if err := tx.Model(&RevocationPartitionModel{}).Where("id = ?", row.ID).Updates(map[string]any{
				"x":            row.X,
				"y":            row.Y,
				"expires":      row.Expires,
				"last_updated": row.LastUpdated,
			}).Error; err != nil {
				return err
			}
		} else if err := tx.Omit("Chunks").Create(&row).Error; err != nil {
			return err
		}
		return upsertChunks(tx, row.ID, existing.Chunks, partition.Chunks)
	})
}

func upsertChunks(tx *gorm.DB, partitionRowID string, existing []RevocationChunkModel, chunks []domain.Chunk) error {
	existingByID := make(map[string]RevocationChunkModel, len(existing))
	for _, c := range existing {
		existingByID[c.ChunkID] = c
	}
	seen := make(map[string]bool, len(chunks))
	for _, chunk := range chunks {
		seen[chunk.ID] = true
		current, ok := existingByID[chunk.ID]
		if !ok {
			current = RevocationChunkModel{ID: newUUID(), PartitionRowID: partitionRowID, ChunkID: chunk.ID}
			if err := tx.Omit("Slices").Create(&current).Error; err != nil {
				return err
			}
		}
		if err := upsertSlices(tx, current, chunk.Slices); err != nil {
			return err
		}
	}
	for id, c := range existingByID {
		if seen[id] {
			continue
		}
		if err := tx.Where("id = ?", c.ID).Delete(&RevocationChunkModel{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func upsertSlices(tx *gorm.DB, chunk RevocationChunkModel, slices []domain.Slice) error {
	existingByHashID := make(map[string]RevocationSliceModel, len(chunk.Slices))
	for _, s := range chunk.Slices {
		existingByHashID[s.HashID] = s
	}
	seen := make(map[string]bool, len(slices))
	for _, slice := range slices {
		seen[slice.HashID] = true
		current, ok := existingByHashID[slice.HashID]
		if !ok {
			model := RevocationSliceModel{
				ID:         newUUID(),
				ChunkRowID: chunk.ID,
				HashID:     slice.HashID,
				Type:       string(slice.Type),
				Version:    slice.Version,
				Hash:       slice.Hash,
				Expires:    timePtr(slice.Expires),
				Payload:    copyBytes(slice.Payload),
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			continue
		}
		updates := map[string]any{
			"type":    string(slice.Type),
			"version": slice.Version,
			"hash":    slice.Hash,
			"expires": timePtr(slice.Expires),
		}
		switch {
		case slice.Payload != nil:
			updates["payload"] = copyBytes(slice.Payload)
		case current.Hash != slice.Hash:
			updates["payload"] = gorm.Expr("NULL")
		}
		if err := tx.Model(&RevocationSliceModel{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return err
		}
	}
	for hashID, s := range existingByHashID {
		if seen[hashID] {
			continue
		}
		if err := tx.Where("id = ?", s.ID).Delete(&RevocationSliceModel{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *RevocationRepository) DeletePartition(ctx context.Context, kid, partitionID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("kid = ? AND partition_id = ?", kid, partitionID).
		Delete(&RevocationPartitionModel{}).Error
}

func (r *RevocationRepository) AttachSlicePayload(ctx context.Context, key domain.SliceKey, payload []byte) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).Exec(`
		UPDATE revocation_slices AS s
		SET payload = ?
		FROM revocation_chunks AS c, revocation_partitions AS p
		WHERE s.chunk_row_id = c.id
			AND c.partition_row_id = p.id
			AND p.kid = ?
			AND p.partition_id = ?
			AND c.chunk_id = ?
			AND s.hash_id = ?`,
		copyBytes(payload), key.KID, key.PartitionID, key.ChunkID, key.HashID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type sliceRow struct {
	PartitionID      string
	ChunkID          string
	HashID           string
	Type             string
	Version          string
	Hash             string
	Expires          *time.Time
	PartitionExpires *time.Time
	Payload          []byte
}

func (r *RevocationRepository) FindSlices(ctx context.Context, key domain.LookupKey) ([]domain.StoredSlice, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).
		Table("revocation_slices AS s").
		Select(`p.partition_id, c.chunk_id, s.hash_id, s.type, s.version, s.hash,
			s.expires, p.expires AS partition_expires, s.payload`).
		Joins("JOIN revocation_chunks AS c ON c.id = s.chunk_row_id").
		Joins("JOIN revocation_partitions AS p ON p.id = c.partition_row_id").
		Where("p.kid = ? AND c.chunk_id = ?", key.KID, key.ChunkID)
	q = whereCoordinate(q, "p.x", key.X)
	q = whereCoordinate(q, "p.y", key.Y)

	var rows []sliceRow
	if err := q.Order("p.partition_id ASC, s.hash_id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.StoredSlice, 0, len(rows))
	for _, row := range rows {
		expires := row.Expires
		if expires == nil {
			expires = row.PartitionExpires
		}
		out = append(out, domain.StoredSlice{
			Key: domain.SliceKey{KID: key.KID, PartitionID: row.PartitionID, ChunkID: row.ChunkID, HashID: row.HashID},
			Slice: domain.Slice{
				HashID:  row.HashID,
				Type:    domain.SliceType(row.Type),
				Version: row.Version,
				Hash:    row.Hash,
				Expires: timeValue(expires),
				Payload: copyBytes(row.Payload),
			},
		})
	}
	return out, nil
}

func whereCoordinate(q *gorm.DB, column string, value *string) *gorm.DB {
	if value == nil {
		return q.Where(column + " IS NULL")
	}
	return q.Where(column+" = ?", *value)
}

func (r *RevocationRepository) PendingChunks(ctx context.Context, kid, partitionID string) ([]string, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Table("revocation_slices AS s").
		Distinct("c.chunk_id").
		Joins("JOIN revocation_chunks AS c ON c.id = s.chunk_row_id").
		Joins("JOIN revocation_partitions AS p ON p.id = c.partition_row_id").
		Where("p.kid = ? AND p.partition_id = ?", kid, partitionID).
		Where("s.payload IS NULL OR octet_length(s.payload) = 0").
		Pluck("c.chunk_id", &ids).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RevocationRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	deleted := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires IS NOT NULL AND expires < ?", now.UTC()).Delete(&RevocationEntryModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted += int(res.RowsAffected)
		res = tx.Where("expires IS NOT NULL AND expires < ?", now.UTC()).Delete(&RevocationPartitionModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted += int(res.RowsAffected)
		return nil
	})
	return deleted, err
}

func entryFromModel(m RevocationEntryModel) domain.RevocationEntry {
	return domain.RevocationEntry{
		KID:         m.KID,
		Mode:        domain.RevocationMode(m.Mode),
		HashTypes:   splitHashTypes(m.HashTypes),
		Expires:     timeValue(m.Expires),
		LastUpdated: timeValue(m.LastUpdated),
	}
}

func partitionFromModel(m RevocationPartitionModel) domain.Partition {
	p := domain.Partition{
		KID:         m.KID,
		ID:          m.PartitionID,
		X:           m.X,
		Y:           m.Y,
		Expires:     timeValue(m.Expires),
		LastUpdated: timeValue(m.LastUpdated),
	}
	chunks := append([]RevocationChunkModel(nil), m.Chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkID < chunks[j].ChunkID })
	for _, c := range chunks {
		chunk := domain.Chunk{ID: c.ChunkID}
		slices := append([]RevocationSliceModel(nil), c.Slices...)
		sort.Slice(slices, func(i, j int) bool { return slices[i].HashID < slices[j].HashID })
		for _, s := range slices {
			chunk.Slices = append(chunk.Slices, domain.Slice{
				HashID:  s.HashID,
				Type:    domain.SliceType(s.Type),
				Version: s.Version,
				Hash:    s.Hash,
				Expires: timeValue(s.Expires),
				Payload: copyBytes(s.Payload),
			})
		}
		p.Chunks = append(p.Chunks, chunk)
	}
	return p
}
