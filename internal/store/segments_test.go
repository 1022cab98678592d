package store

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestUpsertSegments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	id := uuid.New()
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(upsertSegmentSQL))
	prep.ExpectExec().
		WithArgs(id.String(), "Article title: Go, segment: text", sqlmock.AnyArg(), "[0.5,0.25]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = st.UpsertSegments(context.Background(), []SegmentRecord{{
		ID:        id,
		Content:   "Article title: Go, segment: text",
		Metadata:  map[string]interface{}{"articleId": 21, "segmentIndex": 0, "title": "Go"},
		Embedding: []float32{0.5, 0.25},
	}})
	if err != nil {
		t.Fatalf("UpsertSegments: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertSegmentsRejectsEmptyVector(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(upsertSegmentSQL))
	mock.ExpectRollback()

	if err := st.UpsertSegments(context.Background(), []SegmentRecord{{ID: uuid.New(), Content: "x"}}); err == nil {
		t.Fatalf("expected empty vector error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteSegmentsByArticle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectExec(regexp.QuoteMeta(deleteSegmentsByArticleSQL)).
		WithArgs(int64(21)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := st.DeleteSegmentsByArticle(context.Background(), 21)
	if err != nil {
		t.Fatalf("DeleteSegmentsByArticle: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows removed, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestArticleIDPatternAgreesWithParseFloat(t *testing.T) {
	re := regexp.MustCompile(articleIDPattern)
	cases := map[string]int64{
		"21":     21,
		"21.0":   21,
		"21.5":   21,
		"2.1E7":  21000000,
		"2.1e+7": 21000000,
		"-3":     -3,
		".5":     0,
	}
	for in, want := range cases {
		if !re.MatchString(in) {
			t.Fatalf("pattern should accept %q", in)
		}
		f, err := strconv.ParseFloat(in, 64)
		if err != nil || int64(f) != want {
			t.Fatalf("ParseFloat(%q) = %v, %v; want %d", in, f, err, want)
		}
	}
	for _, in := range []string{"", "abc", "21a", "1e400", "NaN", "Inf", "0x15"} {
		if re.MatchString(in) {
			t.Fatalf("pattern should reject %q", in)
		}
	}
}

func TestSearchSegments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	id := uuid.New()
	meta, _ := json.Marshal(map[string]interface{}{"articleId": "21.0", "segmentIndex": 2, "title": "Go"})
	mock.ExpectQuery(regexp.QuoteMeta(searchSegmentsSQL)).
		WithArgs("[1,0]", 0.6, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata", "score"}).
			AddRow(id.String(), "segment", meta, 0.91))

	matches, err := st.SearchSegments(context.Background(), []float32{1, 0}, 3, 0.6)
	if err != nil {
		t.Fatalf("SearchSegments: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != id || matches[0].Score != 0.91 {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if matches[0].Metadata["articleId"] != "21.0" {
		t.Fatalf("unexpected metadata: %+v", matches[0].Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	lit, err := encodeVectorLiteral([]float32{0.5, -1, 2.25})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if lit != "[0.5,-1,2.25]" {
		t.Fatalf("unexpected literal %q", lit)
	}
	vec, err := decodeVectorLiteral(lit)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(vec) != 3 || vec[2] != 2.25 {
		t.Fatalf("unexpected vector %v", vec)
	}
}
