package streams

import (
	"testing"
)

func TestArticleSchemasValidate(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}
	if !reg.Has(EventArticleUpdated, PayloadV1) || !reg.Has(EventArticleDeleted, PayloadV1) {
		t.Fatalf("expected article schemas to be registered")
	}

	cases := []struct {
		name      string
		eventType string
		payload   string
		wantErr   bool
	}{
		{"updated ok", EventArticleUpdated, `{"article_id": 21, "title": "Go", "content": "body"}`, false},
		{"updated extra fields", EventArticleUpdated, `{"article_id": 21, "title": "Go", "content": "", "author_id": 4}`, false},
		{"updated missing content", EventArticleUpdated, `{"article_id": 21, "title": "Go"}`, true},
		{"updated string id", EventArticleUpdated, `{"article_id": "21", "title": "Go", "content": "x"}`, true},
		{"deleted ok", EventArticleDeleted, `{"article_id": 7}`, false},
		{"deleted missing id", EventArticleDeleted, `{}`, true},
		{"not json", EventArticleDeleted, `{`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.Validate(tc.eventType, PayloadV1, []byte(tc.payload))
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidateUnknownEvent(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := reg.Validate("article.archived", PayloadV1, []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unregistered event")
	}
}

func TestBaseDefinitionsIsCopy(t *testing.T) {
	defs := BaseDefinitions()
	defs[0].EventType = "mutated"
	if BaseDefinitions()[0].EventType != EventArticleUpdated {
		t.Fatalf("base definitions leaked mutation")
	}
}
