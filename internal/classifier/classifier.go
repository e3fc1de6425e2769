// Package classifier maps source-native category tags to canonical categories.
package classifier

import (
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"

	"feedrouter/internal/model"
)

// Canonical categories known out of the box.
const (
	TransferNews model.Category = "transfer_news"
	EPLNews      model.Category = "epl_news"
	WSLNews      model.Category = "wsl_news"
	LiveScores   model.Category = "live_scores"
	F1News       model.Category = "f1_news"
	BoxingNews   model.Category = "boxing_news"
	GolfNews     model.Category = "golf_news"
	DartsNews    model.Category = "darts_news"
	UFCNews      model.Category = "ufc_news"
	FootballNews model.Category = "football_news"
)

// priority orders categories from most to least specific. When an article
// matches several categories that target the same chat, the first one wins.
var priority = []model.Category{
	TransferNews,
	EPLNews,
	WSLNews,
	LiveScores,
	F1News,
	BoxingNews,
	GolfNews,
	DartsNews,
	UFCNews,
	FootballNews,
}

// WordPress category IDs of the upstream site.
var defaultIDs = map[int]model.Category{
	// Football, Champions League, World Cup, FA Cup
	2: FootballNews, 155: FootballNews, 163: FootballNews, 164: FootballNews,
	382: FootballNews, 157: FootballNews, 597: FootballNews,

	12: TransferNews, 1010: TransferNews,
	40: UFCNews, 1011: UFCNews,

	// Premier League
	154: EPLNews, 161: EPLNews, 162: EPLNews, 384: EPLNews,

	// WSL and women's football
	156: WSLNews, 165: WSLNews, 166: WSLNews, 553: WSLNews,
	556: WSLNews, 562: WSLNews, 563: WSLNews,

	// Live updates across sports
	186: LiveScores, 192: LiveScores, 199: LiveScores, 205: LiveScores, 66: LiveScores,

	200: F1News, 201: F1News, 203: F1News, 204: F1News,
	182: BoxingNews, 183: BoxingNews, 185: BoxingNews,
	193: GolfNews, 194: GolfNews, 195: GolfNews, 196: GolfNews, 197: GolfNews, 198: GolfNews,
	187: DartsNews, 189: DartsNews, 190: DartsNews, 191: DartsNews,
}

var defaultNames = map[string]model.Category{
	"football news":      FootballNews,
	"transfer news":      TransferNews,
	"epl news":           EPLNews,
	"wsl news":           WSLNews,
	"live scores":        LiveScores,
	"live score updates": LiveScores,
	"f1 news":            F1News,
	"boxing news":        BoxingNews,
	"golf news":          GolfNews,
	"darts news":         DartsNews,
	"ufc news":           UFCNews,
}

// aliases are accepted in admin input only, never when classifying articles.
var aliases = map[string]model.Category{
	"football":          FootballNews,
	"soccer":            FootballNews,
	"champions league":  FootballNews,
	"transfer":          TransferNews,
	"transfers":         TransferNews,
	"epl":               EPLNews,
	"premier league":    EPLNews,
	"wsl":               WSLNews,
	"womens football":   WSLNews,
	"live":              LiveScores,
	"live score":        LiveScores,
	"live score update": LiveScores,
	"f1":                F1News,
	"formula 1":         F1News,
	"formula one":       F1News,
	"boxing":            BoxingNews,
	"golf":              GolfNews,
	"darts":             DartsNews,
	"ufc":               UFCNews,
	"mma":               UFCNews,
}

var separators = regexp.MustCompile(`[_\-\s]+`)

// Classifier is a static lookup table from raw tags to canonical categories.
// It is safe for concurrent use once built.
type Classifier struct {
	byID     map[int]model.Category
	byName   map[string]model.Category
	priority []model.Category
	rank     map[model.Category]int
}

// New builds a Classifier from the built-in table merged with the given
// overrides. Override values may introduce new canonical categories; those
// rank after the built-in ones, in alphabetical order.
func New(ids map[int]string, names map[string]string) *Classifier {
	c := &Classifier{
		byID:   make(map[int]model.Category, len(defaultIDs)+len(ids)),
		byName: make(map[string]model.Category, len(defaultNames)+len(names)),
	}
	for id, cat := range defaultIDs {
		c.byID[id] = cat
	}
	for name, cat := range defaultNames {
		c.byName[name] = cat
	}

	var extra []model.Category
	for id, raw := range ids {
		cat := canonicalKey(raw)
		if cat == "" {
			continue
		}
		c.byID[id] = cat
		extra = append(extra, cat)
	}
	for name, raw := range names {
		cat := canonicalKey(raw)
		key := nameKey(name)
		if cat == "" || key == "" {
			continue
		}
		c.byName[key] = cat
		extra = append(extra, cat)
	}

	extra = lo.Uniq(lo.Filter(extra, func(cat model.Category, _ int) bool {
		return !slices.Contains(priority, cat)
	}))
	slices.Sort(extra)
	c.priority = append(slices.Clone(priority), extra...)

	c.rank = make(map[model.Category]int, len(c.priority))
	for i, cat := range c.priority {
		c.rank[cat] = i
	}
	return c
}

// Classify returns the canonical categories of an article ordered by
// priority. WordPress category IDs are authoritative; category names are
// consulted only when no ID matched. Unknown tags are ignored. The result is
// never empty: an article with no known tag is Uncategorized.
func (c *Classifier) Classify(a model.Article) []model.Category {
	var found []model.Category
	for _, id := range a.CategoryIDs {
		if cat, ok := c.byID[id]; ok {
			found = append(found, cat)
		}
	}
	if len(found) == 0 {
		for _, name := range a.CategoryNames {
			if cat, ok := c.byName[nameKey(name)]; ok {
				found = append(found, cat)
			}
		}
	}
	if len(found) == 0 {
		return []model.Category{model.Uncategorized}
	}

	found = lo.Uniq(found)
	slices.SortStableFunc(found, func(a, b model.Category) int {
		return c.rank[a] - c.rank[b]
	})
	return found
}

// Categories lists every canonical category in priority order.
func (c *Classifier) Categories() []model.Category {
	return slices.Clone(c.priority)
}

// Known reports whether cat is a canonical category.
func (c *Classifier) Known(cat model.Category) bool {
	_, ok := c.rank[cat]
	return ok
}

// Normalize turns admin input into a canonical category. It accepts canonical
// keys ("f1_news"), WordPress names ("F1 News"), dashed or spaced forms
// ("f1-news") and short sport aliases ("f1").
func (c *Classifier) Normalize(raw string) (model.Category, bool) {
	key := nameKey(raw)
	if key == "" {
		return "", false
	}
	if cat, ok := c.byName[key]; ok {
		return cat, true
	}
	if cat := model.Category(strings.ReplaceAll(key, " ", "_")); c.Known(cat) {
		return cat, true
	}
	if cat, ok := aliases[strings.ReplaceAll(key, "'", "")]; ok {
		return cat, true
	}
	return "", false
}

func nameKey(s string) string {
	return strings.TrimSpace(separators.ReplaceAllString(strings.ToLower(s), " "))
}

func canonicalKey(s string) model.Category {
	return model.Category(strings.ReplaceAll(nameKey(s), " ", "_"))
}
