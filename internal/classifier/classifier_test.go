package classifier

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"feedrouter/internal/model"
)

func TestClassify(t *testing.T) {
	c := New(nil, nil)

	tests := []struct {
		name    string
		article model.Article
		want    []model.Category
	}{
		{
			name:    "single wordpress id",
			article: model.Article{CategoryIDs: []int{200}},
			want:    []model.Category{F1News},
		},
		{
			name:    "several ids ordered by priority",
			article: model.Article{CategoryIDs: []int{2, 154, 12}},
			want:    []model.Category{TransferNews, EPLNews, FootballNews},
		},
		{
			name:    "duplicate matches collapse",
			article: model.Article{CategoryIDs: []int{155, 163, 2}},
			want:    []model.Category{FootballNews},
		},
		{
			name:    "ids win over names",
			article: model.Article{CategoryIDs: []int{182}, CategoryNames: []string{"Golf News"}},
			want:    []model.Category{BoxingNews},
		},
		{
			name:    "names used when no id matches",
			article: model.Article{CategoryIDs: []int{9999}, CategoryNames: []string{"  Darts News ", "Live Score Updates"}},
			want:    []model.Category{LiveScores, DartsNews},
		},
		{
			name:    "unknown tags fall back to uncategorized",
			article: model.Article{CategoryIDs: []int{1}, CategoryNames: []string{"Cricket"}},
			want:    []model.Category{model.Uncategorized},
		},
		{
			name:    "no tags at all",
			article: model.Article{},
			want:    []model.Category{model.Uncategorized},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.article)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Classify mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyWithOverrides(t *testing.T) {
	c := New(
		map[int]string{700: "cricket_news", 2: "epl_news"},
		map[string]string{"Rugby News": "rugby-news"},
	)

	if diff := cmp.Diff([]model.Category{"cricket_news"}, c.Classify(model.Article{CategoryIDs: []int{700}})); diff != "" {
		t.Errorf("new id mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]model.Category{EPLNews}, c.Classify(model.Article{CategoryIDs: []int{2}})); diff != "" {
		t.Errorf("overridden id mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]model.Category{"rugby_news"}, c.Classify(model.Article{CategoryNames: []string{"rugby news"}})); diff != "" {
		t.Errorf("new name mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]model.Category{FootballNews, "cricket_news"}, c.Classify(model.Article{CategoryIDs: []int{700, 155}})); diff != "" {
		t.Errorf("extra categories should rank last (-want +got):\n%s", diff)
	}

	cats := c.Categories()
	wantTail := []model.Category{FootballNews, "cricket_news", "rugby_news"}
	if diff := cmp.Diff(wantTail, cats[len(cats)-3:]); diff != "" {
		t.Errorf("Categories tail mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize(t *testing.T) {
	c := New(nil, nil)

	tests := []struct {
		raw    string
		want   model.Category
		wantOK bool
	}{
		{raw: "f1_news", want: F1News, wantOK: true},
		{raw: "F1 News", want: F1News, wantOK: true},
		{raw: "f1-news", want: F1News, wantOK: true},
		{raw: "f1", want: F1News, wantOK: true},
		{raw: "Live Score Updates", want: LiveScores, wantOK: true},
		{raw: "live score", want: LiveScores, wantOK: true},
		{raw: "Premier League", want: EPLNews, wantOK: true},
		{raw: "women's football", want: WSLNews, wantOK: true},
		{raw: "  UFC ", want: UFCNews, wantOK: true},
		{raw: "cricket"},
		{raw: ""},
		{raw: "uncategorized"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := c.Normalize(tt.raw)
			if diff := cmp.Diff(tt.wantOK, ok); diff != "" {
				t.Fatalf("ok mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("category mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCategoriesPriorityOrder(t *testing.T) {
	want := []model.Category{
		TransferNews, EPLNews, WSLNews, LiveScores, F1News,
		BoxingNews, GolfNews, DartsNews, UFCNews, FootballNews,
	}
	if diff := cmp.Diff(want, New(nil, nil).Categories()); diff != "" {
		t.Errorf("Categories mismatch (-want +got):\n%s", diff)
	}
}
