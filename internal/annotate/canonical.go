package annotate

import (
	"regexp"
	"strings"
)

var (
	digitFold = strings.NewReplacer(
		"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
		"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
		"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
		"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	)
	numberRef   = regexp.MustCompile(`\d+(?:[./]+[^\d]*\d+)*`)
	digitRun    = regexp.MustCompile(`\d+`)
	separatorRe = regexp.MustCompile(`[./]+`)
)

// CanonicalNum extracts the reference number of a legal citation, e.g.
// "الظهير رقم ١.٢٢.٣٨" gives "1.22.38". Digit groups are joined by the
// first character of each separator run.
func CanonicalNum(value string) (string, bool) {
	m := numberRef.FindString(digitFold.Replace(value))
	if m == "" {
		return "", false
	}
	digits := digitRun.FindAllString(m, -1)
	seps := separatorRe.FindAllString(m, -1)
	var b strings.Builder
	b.WriteString(digits[0])
	for i, d := range digits[1:] {
		if i >= len(seps) {
			break
		}
		b.WriteByte(seps[i][0])
		b.WriteString(d)
	}
	return b.String(), true
}
