package phi

import (
	"fmt"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/cryptox"
)

// Mapper applies the field-encryption codec to the sensitive fields of a
// record, leaving searchable fields in plaintext. Field values are strings;
// nil/absent sensitive fields pass through untouched (encrypting nothing is
// a no-op, not an error).
type Mapper struct {
	codec *cryptox.Codec
}

// NewMapper wraps a constructed codec. The codec is injected rather than
// looked up so the derive-once key lifecycle stays with the process wiring.
func NewMapper(codec *cryptox.Codec) *Mapper {
	return &Mapper{codec: codec}
}

// EncryptRecord returns a copy of fields in which every sensitive field of
// the record type is replaced with its opaque ciphertext string. Fields
// outside the sensitive set are never touched. Unknown record types and
// non-string sensitive values fail with ErrValidation.
func (m *Mapper) EncryptRecord(fields map[string]any, rt RecordType) (map[string]any, error) {
	def, ok := Lookup(rt)
	if !ok {
		return nil, fmt.Errorf("%w: unknown record type %q", common.ErrValidation, rt)
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	for _, name := range def.Sensitive {
		v, present := out[name]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: sensitive field %q must be a string, got %T", common.ErrValidation, name, v)
		}
		enc, err := m.codec.Encrypt([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("encrypting field %q: %w", name, err)
		}
		out[name] = enc
	}

	return out, nil
}

// DecryptRecord is the inverse of EncryptRecord. It is all-or-nothing: a
// single field that fails authentication fails the whole record, because a
// partially decrypted PHI record is worse than an explicit error.
func (m *Mapper) DecryptRecord(fields map[string]any, rt RecordType) (map[string]any, error) {
	def, ok := Lookup(rt)
	if !ok {
		return nil, fmt.Errorf("%w: unknown record type %q", common.ErrValidation, rt)
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	for _, name := range def.Sensitive {
		v, present := out[name]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: stored field %q is not a string, got %T", common.ErrValidation, name, v)
		}
		plain, err := m.codec.Decrypt(s)
		if err != nil {
			return nil, fmt.Errorf("decrypting field %q: %w", name, err)
		}
		out[name] = string(plain)
	}

	return out, nil
}

// BatchFailure reports one failed record of a batch encryption by its
// position in the input slice.
type BatchFailure struct {
	Index int
	Err   error
}

// EncryptRecords encrypts a batch of records of the same type. One bad
// record does not abort the batch: failed positions are returned alongside
// the successes (nil in the output slice) so bulk import can proceed.
func (m *Mapper) EncryptRecords(batch []map[string]any, rt RecordType) ([]map[string]any, []BatchFailure) {
	out := make([]map[string]any, len(batch))
	var failures []BatchFailure

	for i, fields := range batch {
		enc, err := m.EncryptRecord(fields, rt)
		if err != nil {
			failures = append(failures, BatchFailure{Index: i, Err: err})
			continue
		}
		out[i] = enc
	}

	return out, failures
}

// Project returns only the named fields of a record. Absent fields are
// omitted. Used to reduce a decrypted record to the view a share scope
// permits.
func Project(fields map[string]any, names []string) map[string]any {
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := fields[name]; ok {
			out[name] = v
		}
	}
	return out
}
