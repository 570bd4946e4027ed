package analyzer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/pario-ai/qcache/pkg/models"
	"github.com/pario-ai/qcache/pkg/template"
)

// Tokens a placeholder can capture; anything else stays literal.
var (
	tableToken = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)
	valueToken = regexp.MustCompile(`^[^,.\s]+$`)
)

// SuggestTemplate derives a template from a question that was successfully
// translated into statement. The detected entity becomes {table}, numbers
// become {number} and quoted strings become {value}, each bound to a
// positional marker where it occurs in statement. Tokens a placeholder could
// not capture, such as e-mail addresses, stay literal. It returns false when
// the question has no recognizable pattern or the derived template would not
// match the question it came from.
func (a *Analyzer) SuggestTemplate(question, statement string) (models.TemplateDescriptor, bool) {
	return SuggestTemplate(question, statement)
}

// SuggestTemplate is the stateless form of Analyzer.SuggestTemplate.
func SuggestTemplate(question, statement string) (models.TemplateDescriptor, bool) {
	label, ent := detect(question)
	if label == "" || strings.ContainsAny(question, "{}") {
		return models.TemplateDescriptor{}, false
	}

	words := strings.Fields(strings.ToLower(question))
	pattern := make([]string, 0, len(words))
	shape := statement
	param := 0

	bind := func(literal string, quoted bool) bool {
		var re *regexp.Regexp
		if quoted {
			re = regexp.MustCompile(`(?i)['"]` + regexp.QuoteMeta(literal) + `['"]`)
		} else {
			re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(literal) + `\b`)
		}
		if !re.MatchString(shape) {
			return false
		}
		param++
		marker := "$" + strconv.Itoa(param)
		if quoted {
			marker = "'" + marker + "'"
		}
		shape = re.ReplaceAllLiteralString(shape, marker)
		return true
	}

	for _, w := range words {
		core, suffix := splitTrailingPunct(w)
		switch {
		case core == ent && tableToken.MatchString(core) && bind(core, false):
			pattern = append(pattern, "{table}"+suffix)
		case isDigits(core) && bind(core, false):
			pattern = append(pattern, "{number}"+suffix)
		case isQuoted(core) && len(core) > 4 && valueToken.MatchString(core[1:len(core)-1]) &&
			bind(core[1:len(core)-1], true):
			pattern = append(pattern, core[:1]+"{value}"+core[len(core)-1:]+suffix)
		default:
			pattern = append(pattern, w)
		}
	}

	desc := models.TemplateDescriptor{
		Pattern:            strings.Join(pattern, " "),
		Description:        "Generated from questions shaped like " + label,
		QueryShapeTemplate: &shape,
		DatabaseKind:       models.DatabaseSQL,
		ApplicableScope:    []string{},
	}
	tpl, err := template.New(desc, nil)
	if err != nil {
		return models.TemplateDescriptor{}, false
	}
	if _, ok := tpl.Match(question); !ok {
		return models.TemplateDescriptor{}, false
	}
	return desc, true
}

func splitTrailingPunct(w string) (core, suffix string) {
	core = strings.TrimRightFunc(w, func(r rune) bool {
		return strings.ContainsRune("?!,;:", r)
	})
	return core, w[len(core):]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '\'' || first == '"') && first == last
}
