// Package fieldparser pulls KTP and NPWP fields out of raw OCR text.
package fieldparser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/idverify/internal/core/domain"
)

const (
	FieldBirthPlaceDate = "birthPlaceDate"
	FieldGender         = "gender"
	FieldAddress        = "address"
	FieldReligion       = "religion"
	FieldMaritalStatus  = "maritalStatus"
	FieldOccupation     = "occupation"
	FieldNationality    = "nationality"
)

// Fields each document type is expected to carry. Every one is emitted,
// empty when the text does not contain it, so completeness scoring sees
// the gaps.
var (
	ktpFields = []string{
		domain.FieldNIK, domain.FieldName, FieldBirthPlaceDate, FieldGender, FieldAddress,
		FieldReligion, FieldMaritalStatus, FieldOccupation, FieldNationality,
	}
	npwpFields = []string{domain.FieldNPWPNumber, domain.FieldName, domain.FieldNIK, FieldAddress}
)

var labels = map[string]string{
	"nik":                domain.FieldNIK,
	"nama":               domain.FieldName,
	"name":               domain.FieldName,
	"tempattgllahir":     FieldBirthPlaceDate,
	"tempattanggallahir": FieldBirthPlaceDate,
	"jeniskelamin":       FieldGender,
	"alamat":             FieldAddress,
	"agama":              FieldReligion,
	"statusperkawinan":   FieldMaritalStatus,
	"pekerjaan":          FieldOccupation,
	"kewarganegaraan":    FieldNationality,
	"npwp":               domain.FieldNPWPNumber,
}

var (
	looseNIK  = regexp.MustCompile(`\b[0-9]{16}\b`)
	looseNPWP = regexp.MustCompile(`([0-9]{2})\.?([0-9]{3})\.?([0-9]{3})\.?([0-9])-?([0-9]{3})\.?([0-9]{3})`)
	// "LAKI-LAKI Gol. Darah : O" keeps only the gender.
	bloodTypeSuffix = regexp.MustCompile(`(?i)\s+gol\.?\s*darah.*$`)
)

// Parse maps "Label : value" lines onto field names for docType.
func Parse(docType domain.DocumentType, text string) domain.ParsedFields {
	expected := ktpFields
	if docType == domain.DocumentTypeNPWP {
		expected = npwpFields
	}
	fields := make(domain.ParsedFields, len(expected))
	for _, name := range expected {
		fields[name] = ""
	}

	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name, known := labels[normalizeLabel(label)]
		if !known {
			continue
		}
		if _, wanted := fields[name]; !wanted {
			continue
		}
		if current, _ := fields[name].(string); current != "" {
			continue
		}
		fields[name] = cleanValue(name, value)
	}

	if fields[domain.FieldNIK] == "" {
		if m := looseNIK.FindString(text); m != "" && docType == domain.DocumentTypeKTP {
			fields[domain.FieldNIK] = m
		}
	}
	if _, wanted := fields[domain.FieldNPWPNumber]; wanted && fields[domain.FieldNPWPNumber] == "" {
		fields[domain.FieldNPWPNumber] = formatNPWP(text)
	}
	return fields
}

func cleanValue(name, raw string) string {
	value := domain.NormalizeFieldValue(raw)
	switch name {
	case domain.FieldNIK:
		return strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, value)
	case domain.FieldNPWPNumber:
		if formatted := formatNPWP(value); formatted != "" {
			return formatted
		}
		return value
	case FieldGender:
		return strings.TrimSpace(bloodTypeSuffix.ReplaceAllString(value, ""))
	default:
		return value
	}
}

// formatNPWP returns the first NPWP number in s in canonical
// 99.999.999.9-999.999 form, or "" when none is present.
func formatNPWP(s string) string {
	m := looseNPWP.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1] + "." + m[2] + "." + m[3] + "." + m[4] + "-" + m[5] + "." + m[6]
}

func normalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
