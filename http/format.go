package http

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var displayLanguages = []language.Tag{
	language.English,
	language.German,
	language.French,
	language.SimplifiedChinese,
}

var displayMatcher = language.NewMatcher(displayLanguages)

// FormatPrediction renders a prediction with six decimals and its unit, using
// the number conventions of the best match for acceptLanguage.
func FormatPrediction(acceptLanguage string, value float64, unit string) string {
	tag := language.English
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(tags) > 0 {
			_, index, _ := displayMatcher.Match(tags...)
			tag = displayLanguages[index]
		}
	}
	return message.NewPrinter(tag).Sprintf("%.6f %s", value, unit)
}
