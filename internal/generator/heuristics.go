package generator

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// fieldGen produces a synthetic value for a field whose name matched a
// heuristic, using rng for any randomness.
type fieldGen func(rng *rand.Rand) any

// heuristic is one row of the §4.3 field-name table: a case-insensitive
// substring match against the field name, tried in order, first match wins.
type heuristic struct {
	substr string
	gen    fieldGen
}

var commonFirstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael", "Linda",
	"David", "Elizabeth", "William", "Barbara", "Richard", "Susan", "Joseph", "Jessica",
	"Thomas", "Sarah", "Charles", "Karen",
}

var loremTokens = []string{
	"Maple", "Elm", "Cedar", "Birch", "Willow", "Harbor", "Ridge", "Hollow",
	"Union", "Market", "Liberty", "Commerce", "Lakeview", "Summit",
}

var statusValues = []string{"active", "pending", "inactive"}

// heuristics is evaluated in order against the lower-cased field name.
// 52 entries, covering the §4.3 heuristic table plus common extensions.
var heuristics = []heuristic{
	{"uuid", genUUID},
	{"id", genUUID},
	{"email", genEmail},
	{"mail", genEmail},
	{"firstname", genFirstName},
	{"first_name", genFirstName},
	{"lastname", genLastName},
	{"last_name", genLastName},
	{"username", genUsername},
	{"name", genFirstName},
	{"url", genURL},
	{"link", genURL},
	{"href", genURL},
	{"created", genTimestamp},
	{"updated", genTimestamp},
	{"date", genTimestamp},
	{"time", genTimestamp},
	{"timestamp", genTimestamp},
	{"price", genMoney},
	{"amount", genMoney},
	{"cost", genMoney},
	{"total", genMoney},
	{"fee", genMoney},
	{"balance", genMoney},
	{"count", genSmallInt},
	{"qty", genSmallInt},
	{"quantity", genSmallInt},
	{"number", genSmallInt},
	{"phone", genPhone},
	{"tel", genPhone},
	{"mobile", genPhone},
	{"address", genLoremPhrase},
	{"street", genLoremPhrase},
	{"city", genLoremWord},
	{"region", genLoremWord},
	{"state", genStatus},
	{"status", genStatus},
	{"country", genLoremWord},
	{"zip", genZip},
	{"postal", genZip},
	{"code", genCode},
	{"token", genCode},
	{"key", genCode},
	{"slug", genSlug},
	{"title", genLoremPhrase},
	{"label", genLoremWord},
	{"description", genLoremPhrase},
	{"color", genLoremWord},
	{"category", genLoremWord},
	{"tag", genLoremWord},
	{"active", genBool},
	{"enabled", genBool},
}

// matchHeuristic returns the first heuristic whose substring occurs in the
// lower-cased field name, or nil if none match.
func matchHeuristic(fieldName string) fieldGen {
	lower := strings.ToLower(fieldName)
	for _, h := range heuristics {
		if strings.Contains(lower, h.substr) {
			return h.gen
		}
	}
	return nil
}

func genUUID(rng *rand.Rand) any {
	return uuid.New().String()
}

func genEmail(rng *rand.Rand) any {
	return fmt.Sprintf("%s@%s.com", randAlnum(rng, 8), randAlnum(rng, 6))
}

func genFirstName(rng *rand.Rand) any {
	return commonFirstNames[rng.Intn(len(commonFirstNames))]
}

func genLastName(rng *rand.Rand) any {
	return commonFirstNames[rng.Intn(len(commonFirstNames))] + "son"
}

func genUsername(rng *rand.Rand) any {
	return strings.ToLower(commonFirstNames[rng.Intn(len(commonFirstNames))]) + randAlnum(rng, 4)
}

func genURL(rng *rand.Rand) any {
	return "https://example.com/" + randAlnum(rng, 8)
}

func genTimestamp(rng *rand.Rand) any {
	year := 2020 + rng.Intn(6)
	month := 1 + rng.Intn(12)
	day := 1 + rng.Intn(28)
	hour := rng.Intn(24)
	minute := rng.Intn(60)
	second := rng.Intn(60)
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", year, month, day, hour, minute, second)
}

func genMoney(rng *rand.Rand) any {
	cents := 100 + rng.Intn(999900)
	return float64(cents) / 100
}

func genSmallInt(rng *rand.Rand) any {
	return float64(rng.Intn(101))
}

func genPhone(rng *rand.Rand) any {
	return fmt.Sprintf("+1%010d", rng.Int63n(1e10))
}

func genLoremWord(rng *rand.Rand) any {
	return loremTokens[rng.Intn(len(loremTokens))]
}

func genLoremPhrase(rng *rand.Rand) any {
	a := loremTokens[rng.Intn(len(loremTokens))]
	b := loremTokens[rng.Intn(len(loremTokens))]
	return fmt.Sprintf("%d %s %s", 1+rng.Intn(9998), a, b)
}

func genStatus(rng *rand.Rand) any {
	return statusValues[rng.Intn(len(statusValues))]
}

func genZip(rng *rand.Rand) any {
	return fmt.Sprintf("%05d", rng.Intn(100000))
}

func genCode(rng *rand.Rand) any {
	return randAlnum(rng, 12)
}

func genSlug(rng *rand.Rand) any {
	return strings.ToLower(loremTokens[rng.Intn(len(loremTokens))]) + "-" + randAlnum(rng, 4)
}

func genBool(rng *rand.Rand) any {
	return rng.Intn(2) == 0
}

const alnumAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randAlnum(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alnumAlphabet[rng.Intn(len(alnumAlphabet))]
	}
	return string(b)
}
