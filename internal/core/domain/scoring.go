package domain

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	completenessWeight = 60.0
	ktpNIKBonus        = 20.0
	ktpNameBonus       = 10.0
	npwpNumberBonus    = 30.0
	maxScore           = 100.0
)

// Field names produced by the OCR parsers.
const (
	FieldNIK        = "nik"
	FieldName       = "name"
	FieldNPWPNumber = "npwpNumber"
)

var (
	nikPattern  = regexp.MustCompile(`^[0-9]{16}$`)
	npwpPattern = regexp.MustCompile(`^[0-9]{2}\.[0-9]{3}\.[0-9]{3}\.[0-9]-[0-9]{3}\.[0-9]{3}$`)
)

// ComputeAIScore turns parsed OCR fields into a 0..100 trust score.
//
// Completeness contributes up to 60 points and counts every key in fields,
// so optional fields the OCR left empty lower the score. Type specific
// structure checks add fixed bonuses on top.
func ComputeAIScore(docType DocumentType, fields ParsedFields) int {
	if len(fields) == 0 {
		return 0
	}

	filled := 0
	for _, v := range fields {
		if isFilled(v) {
			filled++
		}
	}
	score := float64(filled) / float64(len(fields)) * completenessWeight

	switch docType {
	case DocumentTypeKTP:
		if nikPattern.MatchString(fieldString(fields, FieldNIK)) {
			score += ktpNIKBonus
		}
		if utf8.RuneCountInString(fieldString(fields, FieldName)) > 3 {
			score += ktpNameBonus
		}
	case DocumentTypeNPWP:
		if npwpPattern.MatchString(fieldString(fields, FieldNPWPNumber)) {
			score += npwpNumberBonus
		}
	}

	return int(math.Round(math.Min(maxScore, score)))
}

func isFilled(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case *string:
		return t != nil && *t != ""
	default:
		return true
	}
}

func fieldString(fields ParsedFields, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

// NormalizeFieldValue trims OCR noise from a single value.
func NormalizeFieldValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
