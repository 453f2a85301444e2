package models

import "time"

// Attachment is an encrypted document (lab report, scan) linked to a record.
// The file bytes live in object storage under StorageKey, sealed with a
// per-file key; the core keeps only that key's ciphertext and nonce.
type Attachment struct {
	ID               string
	RecordID         string
	StorageKey       string
	EncryptedFileKey []byte
	Nonce            []byte
	UploadStatus     string // "pending" until the client confirms the PUT
	CreatedAt        time.Time
}
