package analyzer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const entity = `([\p{L}\p{N}_]+)`

type patternRule struct {
	re    *regexp.Regexp
	label string
}

// Generalization rules, tried in order. The first match names the pattern
// after its captured entity.
var patternRules = []patternRule{
	{regexp.MustCompile(`muestra\s+(?:todos\s+)?los\s+` + entity), "muestra todos los %s"},
	{regexp.MustCompile(`lista\s+(?:de\s+)?(?:todos\s+)?los\s+` + entity), "lista los %s"},
	{regexp.MustCompile(`busca\s+` + entity + `\s+donde`), "busca %s donde"},
	{regexp.MustCompile(`cu[aá]ntos\s+` + entity + `\s+hay`), "cuántos %s hay"},
	{regexp.MustCompile(`total\s+de\s+` + entity), "total de %s"},
	{regexp.MustCompile(`show\s+(?:me\s+)?all\s+(?:the\s+)?` + entity), "show all the %s"},
	{regexp.MustCompile(`how\s+many\s+` + entity + `\s+are\s+there`), "how many %s are there"},
	{regexp.MustCompile(`find\s+` + entity + `\s+where`), "find %s where"},
	{regexp.MustCompile(`total\s+(?:number\s+)?of\s+` + entity), "total of %s"},
}

var listVerbs = map[string]bool{
	"muestra": true, "mostrar": true, "lista": true, "listar": true,
	"show": true, "list": true, "display": true,
}

var determiners = map[string]bool{
	"de": true, "los": true, "las": true, "todos": true, "todas": true,
	"the": true, "all": true, "of": true, "every": true,
}

// DetectPattern returns the generalized pattern of question, or "" when no
// recurring shape is recognized.
func DetectPattern(question string) string {
	label, _ := detect(question)
	return label
}

func detect(question string) (label, ent string) {
	q := strings.ToLower(norm.NFC.String(question))

	for _, r := range patternRules {
		if m := r.re.FindStringSubmatch(q); m != nil {
			return fmt.Sprintf(r.label, m[1]), m[1]
		}
	}

	words := strings.Fields(q)
	if len(words) < 3 {
		return "", ""
	}

	verb := -1
	for i, w := range words {
		if listVerbs[w] {
			verb = i
			break
		}
	}
	if verb < 0 {
		return "", ""
	}
	for i := verb + 1; i < len(words); i++ {
		if !determiners[words[i]] {
			continue
		}
		for j := i + 1; j < len(words); j++ {
			if determiners[words[j]] {
				continue
			}
			ent = strings.TrimFunc(words[j], func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
			})
			if ent == "" {
				return "", ""
			}
			return "list_of_" + ent, ent
		}
		break
	}
	return "", ""
}
