package db

import "time"

type RevocationEntryModel struct {
	KID         string `gorm:"column:kid;primaryKey"`
	Mode        string `gorm:"not null"`
	HashTypes   string `gorm:"not null"`
	Expires     *time.Time
	LastUpdated *time.Time
	UpdatedAt   time.Time `gorm:"not null"`
}

func (RevocationEntryModel) TableName() string { return "revocation_entries" }

type RevocationPartitionModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	KID         string `gorm:"column:kid;index;not null"`
	PartitionID string `gorm:"not null"`
	X           *string
	Y           *string
	Expires     *time.Time
	LastUpdated *time.Time
	Chunks      []RevocationChunkModel `gorm:"foreignKey:PartitionRowID"`
}

func (RevocationPartitionModel) TableName() string { return "revocation_partitions" }

type RevocationChunkModel struct {
	ID             string                 `gorm:"type:uuid;primaryKey"`
	PartitionRowID string                 `gorm:"type:uuid;index;not null"`
	ChunkID        string                 `gorm:"not null"`
	Slices         []RevocationSliceModel `gorm:"foreignKey:ChunkRowID"`
}

func (RevocationChunkModel) TableName() string { return "revocation_chunks" }

type RevocationSliceModel struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	ChunkRowID string `gorm:"type:uuid;index;not null"`
	HashID     string `gorm:"not null"`
	Type       string `gorm:"not null"`
	Version    string
	Hash       string
	Expires    *time.Time
	Payload    []byte `gorm:"type:bytea"`
}

func (RevocationSliceModel) TableName() string { return "revocation_slices" }
