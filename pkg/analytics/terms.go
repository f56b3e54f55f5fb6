package analytics

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var termSplit = regexp.MustCompile(`[\s.,;:!?()]+`)

var alphanumericTerm = regexp.MustCompile(`[a-z]+[0-9]+|[0-9]+[a-z]+`)

var stopWords = setOf(
	"the", "and", "for", "are", "with", "you", "that", "this", "from", "they", "have", "been",
	"has", "had", "what", "will", "your", "can", "said", "each", "which", "their", "time", "about",
	"if", "up", "out", "many", "then", "them", "these", "so", "some", "her", "would", "make",
	"like", "into", "him", "two", "more", "very", "after", "back", "call", "through", "just",
	"also", "even", "most", "such", "too", "much", "well", "were", "me", "first", "may", "when",
	"where", "how", "old", "did", "come", "his", "there", "www", "com", "http", "https", "tme",
	"telegram",
)

var medicalTerms = setOf(
	"amoxicillin", "paracetamol", "ibuprofen", "aspirin", "penicillin", "vitamin", "calcium",
	"iron", "zinc", "medicine", "drug", "tablet", "capsule", "syrup", "cream", "ointment",
	"injection", "vaccine", "antibiotic", "pain", "fever", "cold", "cough", "headache", "blood",
	"pressure", "diabetes", "sugar", "insulin", "pills", "medication", "pharmacy", "hospital",
	"doctor", "nurse", "treatment", "cure", "heal", "health", "medical", "clinical",
	"prescription", "dose", "mg", "ml", "gram", "box", "bottle", "pack", "strip",
)

var medicalPrefixes = []string{
	"anti", "bio", "medi", "pharma", "thera", "surg", "dent", "opti",
	"cardio", "neuro", "gastro", "derma", "pedi", "ortho",
}

const minTermLength = 3

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Terms разбивает текст на термины в нижнем регистре: короткие слова и стоп-слова отбрасываются,
// повторы внутри одного текста сохраняются.
func Terms(text string) []string {
	var out []string
	for _, t := range termSplit.Split(strings.ToLower(text), -1) {
		if utf8.RuneCountInString(t) < minTermLength || stopWords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// IsMedicalTerm — термин из медицинского словаря, дозировка вида 500mg или слово с медицинской основой.
func IsMedicalTerm(term string) bool {
	if medicalTerms[term] {
		return true
	}
	if alphanumericTerm.MatchString(term) {
		return true
	}
	if utf8.RuneCountInString(term) >= 4 {
		for _, p := range medicalPrefixes {
			if strings.HasPrefix(term, p) {
				return true
			}
		}
	}
	return false
}
