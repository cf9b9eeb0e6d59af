package exchange

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func lower(a Action) string {
	return strings.ToLower(string(a))
}

// parseAction classifies the reply by substring so both the keyboard labels and typed words work.
func parseAction(text string) (Action, bool) {
	t := normalize(text)
	switch {
	case strings.Contains(t, "comprar"):
		return Buy, true
	case strings.Contains(t, "vender"):
		return Sell, true
	}
	return "", false
}

func isOther(text string) bool {
	return normalize(text) == strings.ToLower(buttonOther)
}

// parseDenomination accepts keyboard tokens such as "$10".
func parseDenomination(text string) (decimal.Decimal, bool) {
	t := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "$"))
	n, err := strconv.Atoi(t)
	if err != nil || n <= 0 {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromInt(int64(n)), true
}

// parseCustomAmount accepts a positive amount with at most two decimals. A leading "$" is
// ignored and a comma is read as the decimal separator.
func parseCustomAmount(text string) (decimal.Decimal, bool) {
	t := strings.TrimSpace(text)
	t = strings.TrimSpace(strings.TrimPrefix(t, "$"))
	t = strings.ReplaceAll(t, ",", ".")
	if t == "" || strings.ContainsAny(t, "eE") {
		return decimal.Decimal{}, false
	}
	amt, err := decimal.NewFromString(t)
	if err != nil || !amt.IsPositive() || !amt.Equal(amt.Round(2)) {
		return decimal.Decimal{}, false
	}
	return amt, true
}

type confirmation int

const (
	confirmUnknown confirmation = iota
	confirmYes
	confirmNo
)

// parseConfirmation looks at whole words: "sí"/"si" mean yes, "no"/"cancelar" mean no. A reply
// carrying both is unclear.
func parseConfirmation(text string) confirmation {
	var yes, no bool
	for _, w := range strings.FieldsFunc(normalize(text), notLetter) {
		switch w {
		case "sí", "si":
			yes = true
		case "no", "cancelar":
			no = true
		}
	}
	switch {
	case yes && !no:
		return confirmYes
	case no && !yes:
		return confirmNo
	}
	return confirmUnknown
}

func notLetter(r rune) bool {
	return !unicode.IsLetter(r)
}
