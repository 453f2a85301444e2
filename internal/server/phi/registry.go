// Package phi implements field-level protection for clinical records: a
// static registry declaring which fields of each record type are sensitive,
// and a Mapper that encrypts/decrypts exactly those fields.
//
// The registry is deliberately compile-time data. Adding a field to a record
// type without classifying it here is impossible, so encryption coverage
// cannot silently regress.
package phi

// RecordType identifies one of the fixed clinical record shapes.
type RecordType string

const (
	RecordTypePatientProfile RecordType = "patient_profile"
	RecordTypeAppointment    RecordType = "appointment"
	RecordTypePrescription   RecordType = "prescription"
)

// Definition declares the field classification of a record type. Sensitive
// and Searchable are disjoint; only Sensitive fields are ever encrypted.
// Sections name field subsets that capabilities may be scoped to.
type Definition struct {
	Type       RecordType
	Sensitive  []string
	Searchable []string
	Sections   map[string][]string
}

var registry = map[RecordType]Definition{
	RecordTypePatientProfile: {
		Type: RecordTypePatientProfile,
		Sensitive: []string{
			"medical_history",
			"allergies",
			"emergency_contact",
			"emergency_phone",
			"address",
			"appointment_notes",
			"prescriptions",
		},
		Searchable: []string{"first_name", "last_name", "email", "next_appointment"},
		Sections: map[string][]string{
			"demographics":  {"first_name", "last_name", "email", "address"},
			"medical":       {"medical_history", "allergies"},
			"contact":       {"emergency_contact", "emergency_phone", "address"},
			"appointments":  {"next_appointment", "appointment_notes"},
			"prescriptions": {"prescriptions"},
		},
	},
	RecordTypeAppointment: {
		Type:       RecordTypeAppointment,
		Sensitive:  []string{"reason", "notes", "diagnosis"},
		Searchable: []string{"scheduled_at", "provider", "status"},
		Sections: map[string][]string{
			"schedule": {"scheduled_at", "provider", "status"},
			"clinical": {"reason", "notes", "diagnosis"},
		},
	},
	RecordTypePrescription: {
		Type:       RecordTypePrescription,
		Sensitive:  []string{"medication", "dosage", "instructions"},
		Searchable: []string{"prescribed_at", "prescriber", "status"},
		Sections: map[string][]string{
			"dispense": {"medication", "dosage", "instructions"},
		},
	},
}

// Lookup returns the definition of a record type.
func Lookup(rt RecordType) (Definition, bool) {
	d, ok := registry[rt]
	return d, ok
}

// HasField reports whether name is a declared field of the record type,
// sensitive or searchable.
func (d Definition) HasField(name string) bool {
	for _, f := range d.Sensitive {
		if f == name {
			return true
		}
	}
	for _, f := range d.Searchable {
		if f == name {
			return true
		}
	}
	return false
}

// AllFields returns every declared field of the record type.
func (d Definition) AllFields() []string {
	out := make([]string, 0, len(d.Sensitive)+len(d.Searchable))
	out = append(out, d.Searchable...)
	out = append(out, d.Sensitive...)
	return out
}

// SectionFields returns the field list of a named section.
func (d Definition) SectionFields(name string) ([]string, bool) {
	fields, ok := d.Sections[name]
	return fields, ok
}
