package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quarry/internal/models"
)

// walk drives the walker, answering each step with items[i] (or 1 when out of range)
func walk(t *testing.T, w *Walker, items []int) []Step {
	t.Helper()
	var steps []Step
	for {
		step, ok := w.Next()
		if !ok {
			return steps
		}
		steps = append(steps, step)
		n := 1
		if len(steps)-1 < len(items) {
			n = items[len(steps)-1]
		}
		w.Observe(Observation{Items: n})
		require.Less(t, len(steps), 1000, "walk did not terminate")
	}
}

func urls(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.URL
	}
	return out
}

func TestWalker_None(t *testing.T) {
	w, err := NewWalker("https://shop.test/list", models.PaginationConfig{}, 0)
	require.NoError(t, err)

	steps := walk(t, w, []int{0})
	assert.Equal(t, []string{"https://shop.test/list"}, urls(steps))
	assert.Equal(t, StopSinglePage, w.StopReason())
	assert.Equal(t, 1, w.Pages())
}

func TestWalker_QueryParamStopsAtMaxPagesOnEmptyLastPage(t *testing.T) {
	w, err := NewWalker("https://shop.test/list?sort=new", models.PaginationConfig{
		Type:     models.PaginationQueryParam,
		MaxPages: 3,
	}, 0)
	require.NoError(t, err)

	steps := walk(t, w, []int{10, 10, 0})
	assert.Equal(t, []string{
		"https://shop.test/list?page=1&sort=new",
		"https://shop.test/list?page=2&sort=new",
		"https://shop.test/list?page=3&sort=new",
	}, urls(steps))
	assert.Equal(t, 3, w.Pages())

	_, ok := w.Next()
	assert.False(t, ok, "no page 4 may be requested")
}

func TestWalker_QueryParamEmptyPageTerminates(t *testing.T) {
	w, err := NewWalker("https://shop.test/list", models.PaginationConfig{
		Type:      models.PaginationQueryParam,
		Param:     "p",
		StartPage: 0,
		MaxPages:  20,
	}, 0)
	require.NoError(t, err)

	steps := walk(t, w, []int{5, 0, 5})
	assert.Len(t, steps, 2)
	assert.Equal(t, "https://shop.test/list?p=2", steps[1].URL)
	assert.Equal(t, StopEmptyPage, w.StopReason())
}

func TestWalker_MinPagesDefersEmptyStop(t *testing.T) {
	w, err := NewWalker("https://shop.test/list", models.PaginationConfig{
		Type:     models.PaginationQueryParam,
		MaxPages: 10,
		MinPages: 3,
	}, 0)
	require.NoError(t, err)

	steps := walk(t, w, []int{0, 0, 0, 0})
	assert.Len(t, steps, 3)
	assert.Equal(t, StopEmptyPage, w.StopReason())
}

func TestWalker_FailedPageDoesNotStopNumberedWalk(t *testing.T) {
	w, err := NewWalker("https://shop.test/list", models.PaginationConfig{Type: models.PaginationQueryParam, MaxPages: 3}, 0)
	require.NoError(t, err)

	_, ok := w.Next()
	require.True(t, ok)
	w.Observe(Observation{Failed: true})

	step, ok := w.Next()
	require.True(t, ok)
	assert.Equal(t, 2, step.Number)
}

func TestWalker_CeilingCapsMaxPages(t *testing.T) {
	w, err := NewWalker("https://shop.test/", models.PaginationConfig{Type: models.PaginationQueryParam, MaxPages: 500}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, w.MaxPages())
	assert.Len(t, walk(t, w, nil), 4)
	assert.Equal(t, StopMaxPages, w.StopReason())

	w, err = NewWalker("https://shop.test/", models.PaginationConfig{Type: models.PaginationQueryParam}, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPages, w.MaxPages())
}

func TestWalker_Path(t *testing.T) {
	t.Run("template", func(t *testing.T) {
		w, err := NewWalker("https://blog.test/news", models.PaginationConfig{
			Type:         models.PaginationPath,
			PathTemplate: "/news/page/{page}/",
			MaxPages:     2,
		}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://blog.test/news/page/1/",
			"https://blog.test/news/page/2/",
		}, urls(walk(t, w, nil)))
	})

	t.Run("default suffix", func(t *testing.T) {
		w, err := NewWalker("https://blog.test/news/", models.PaginationConfig{
			Type:     models.PaginationPath,
			MaxPages: 3,
		}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://blog.test/news/",
			"https://blog.test/news/page/2",
			"https://blog.test/news/page/3",
		}, urls(walk(t, w, nil)))
	})
}

func TestWalker_NextButton(t *testing.T) {
	w, err := NewWalker("https://shop.test/list", models.PaginationConfig{
		Type:         models.PaginationNextButton,
		NextSelector: "a.next",
		MaxPages:     10,
	}, 0)
	require.NoError(t, err)

	step, ok := w.Next()
	require.True(t, ok)
	assert.Equal(t, "https://shop.test/list", step.URL)

	// No observation yet: the walk cannot continue
	_, ok = w.Next()
	assert.False(t, ok)
	assert.Equal(t, StopNoNextLink, w.StopReason())

	w, err = NewWalker("https://shop.test/list", models.PaginationConfig{
		Type:         models.PaginationNextButton,
		NextSelector: "a.next",
	}, 0)
	require.NoError(t, err)

	_, _ = w.Next()
	w.Observe(Observation{Items: 3, NextURL: "/list?cursor=abc"})
	step, ok = w.Next()
	require.True(t, ok)
	assert.Equal(t, "https://shop.test/list?cursor=abc", step.URL)

	w.Observe(Observation{Items: 3, NextURL: "https://shop.test/list"})
	_, ok = w.Next()
	assert.False(t, ok)
	assert.Equal(t, StopRepeatURL, w.StopReason())
}

func TestWalker_NextButtonEndsWithoutLink(t *testing.T) {
	w, err := NewWalker("https://shop.test/list", models.PaginationConfig{
		Type:         models.PaginationNextButton,
		NextSelector: "a.next",
	}, 0)
	require.NoError(t, err)

	_, _ = w.Next()
	w.Observe(Observation{Items: 4})
	_, ok := w.Next()
	assert.False(t, ok)
	assert.Equal(t, StopNoNextLink, w.StopReason())
	assert.Equal(t, 1, w.Pages())
}

func TestWalker_InfiniteScroll(t *testing.T) {
	w, err := NewWalker("https://feed.test/", models.PaginationConfig{
		Type:     models.PaginationInfiniteScroll,
		MaxPages: 10,
	}, 0)
	require.NoError(t, err)

	steps := walk(t, w, []int{10, 20, 20})
	require.Len(t, steps, 3)
	assert.Equal(t, 0, steps[0].ScrollSteps)
	assert.Equal(t, 2, steps[2].ScrollSteps)
	assert.Equal(t, 0, steps[0].SkipItems)
	assert.Equal(t, 10, steps[1].SkipItems)
	assert.Equal(t, 20, steps[2].SkipItems)
	assert.Equal(t, StopNoGrowth, w.StopReason())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  models.PaginationConfig
		wantErr bool
	}{
		{name: "zero value", config: models.PaginationConfig{}},
		{name: "query param", config: models.PaginationConfig{Type: models.PaginationQueryParam, Param: "pg"}},
		{name: "bad param", config: models.PaginationConfig{Type: models.PaginationQueryParam, Param: "a=b"}, wantErr: true},
		{name: "path without placeholder", config: models.PaginationConfig{Type: models.PaginationPath, PathTemplate: "/list/2"}, wantErr: true},
		{name: "next button without selector", config: models.PaginationConfig{Type: models.PaginationNextButton}, wantErr: true},
		{name: "unknown type", config: models.PaginationConfig{Type: "cursor"}, wantErr: true},
		{name: "negative max", config: models.PaginationConfig{Type: models.PaginationQueryParam, MaxPages: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.config)
			if tt.wantErr {
				var cfgErr *models.ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewWalker("not a url", models.PaginationConfig{}, 0)
	assert.Error(t, err)
}
