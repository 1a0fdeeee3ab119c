// internal/extract/patient.go
package extract

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	cedulaPattern = regexp.MustCompile(`\b(\d{6,13})\b`)
	agePattern    = regexp.MustCompile(`(?i)\bE:[ \t]*([0-9]+[ \t]*[a-z]*)`)
	sexPattern    = regexp.MustCompile(`(?i)\bS:[ \t]*([MF])\b`)
)

// ParsePatientCell splits the stacked patient column ("ID / E: age / S: sex /
// NAME") into its parts. Lines may be separated by newlines or <br>.
func ParsePatientCell(lines []string) PatientCell {
	var pc PatientCell
	pc.Sexo = SexUnknown
	joined := strings.Join(lines, "\n")

	if m := cedulaPattern.FindStringSubmatch(joined); m != nil {
		pc.Cedula = m[1]
	}
	if m := agePattern.FindStringSubmatch(joined); m != nil {
		pc.Edad = strings.ReplaceAll(m[1], " ", "")
	}
	if m := sexPattern.FindStringSubmatch(joined); m != nil {
		pc.Sexo = Sex(strings.ToUpper(m[1]))
	}
	for _, line := range lines {
		if isPatientName(line) {
			pc.Paciente = line
			break
		}
	}
	return pc
}

// ParsePatientText is ParsePatientCell for raw cell text.
func ParsePatientText(s string) PatientCell {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return ParsePatientCell(lines)
}

func isPatientName(s string) bool {
	if len(s) <= 5 || strings.Contains(s, "E:") || strings.Contains(s, "S:") {
		return false
	}
	hasLetter := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			return false
		case unicode.IsLetter(r):
			if unicode.IsLower(r) {
				return false
			}
			hasLetter = true
		}
	}
	return hasLetter
}

// looksLikePatientCell is the structural signature of the patient column.
func looksLikePatientCell(lines []string) bool {
	joined := strings.Join(lines, "\n")
	return agePattern.MatchString(joined) && sexPattern.MatchString(joined)
}
