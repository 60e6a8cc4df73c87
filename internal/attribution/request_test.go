package attribution

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/allenai/infinigram-api/internal/errors"
)

func TestDecodeRequest_Defaults(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"response":"busy medieval streets"}`))
	if err != nil {
		t.Fatalf("DecodeRequest error = %v", err)
	}

	want := DefaultRequest()
	want.Response = "busy medieval streets"
	if !reflect.DeepEqual(req, want) {
		t.Errorf("decoded = %+v\nwant %+v", req, want)
	}
}

func TestDecodeRequest_Overrides(t *testing.T) {
	body := `{
		"response": "r",
		"prompt": "p",
		"delimiters": ["\n", "."],
		"minimumSpanLength": 3,
		"spanRankingMethod": "unigram_logprob_sum",
		"filterMethod": "bm25",
		"filterBm25FieldsConsidered": "prompt+response",
		"filterBm25RatioToKeep": 0
	}`
	req, err := DecodeRequest(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeRequest error = %v", err)
	}
	if req.MinimumSpanLength != 3 || req.SpanRankingMethod != RankByUnigramLogprobSum {
		t.Errorf("overrides not applied: %+v", req)
	}
	if req.FilterBm25RatioToKeep != 0 {
		t.Errorf("explicit zero ratio should be kept, got %v", req.FilterBm25RatioToKeep)
	}
	if req.MaximumFrequency != 10 {
		t.Errorf("omitted field lost its default: %d", req.MaximumFrequency)
	}
	if len(req.Delimiters) != 2 {
		t.Errorf("Delimiters = %q", req.Delimiters)
	}
}

func TestDecodeRequest_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"response":`, ""},
		{"missing response", `{}`, "response"},
		{"zero min length", `{"response":"r","minimumSpanLength":0}`, "minimumSpanLength"},
		{"negative frequency", `{"response":"r","maximumFrequency":-1}`, "maximumFrequency"},
		{"zero density", `{"response":"r","maximumSpanDensity":0}`, "maximumSpanDensity"},
		{"zero documents", `{"response":"r","maximumDocumentsPerSpan":0}`, "maximumDocumentsPerSpan"},
		{"zero context", `{"response":"r","maximumContextLength":0}`, "maximumContextLength"},
		{"zero long context", `{"response":"r","maximumContextLengthLong":0}`, "maximumContextLengthLong"},
		{"zero snippet context", `{"response":"r","maximumContextLengthSnippet":0}`, "maximumContextLengthSnippet"},
		{"ratio above one", `{"response":"r","filterBm25RatioToKeep":1.5}`, "filterBm25RatioToKeep"},
		{"negative ratio", `{"response":"r","filterBm25RatioToKeep":-0.1}`, "filterBm25RatioToKeep"},
		{"unknown ranking", `{"response":"r","spanRankingMethod":"random"}`, "spanRankingMethod"},
		{"unknown filter", `{"response":"r","filterMethod":"tfidf"}`, "filterMethod"},
		{"unknown fields", `{"response":"r","filterBm25FieldsConsidered":"both"}`, "filterBm25FieldsConsidered"},
		{"wrong type", `{"response":"r","minimumSpanLength":"two"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(strings.NewReader(tt.body))
			attrErr, ok := errors.As(err)
			if !ok || attrErr.Code != errors.ValidationFailed {
				t.Fatalf("error = %v, want VALIDATION_FAILED", err)
			}
			if tt.field == "" {
				return
			}
			details, _ := attrErr.Details.(map[string]string)
			if details["field"] != tt.field {
				t.Errorf("field = %q, want %q", details["field"], tt.field)
			}
		})
	}
}

// mutate returns a copy of r with field i changed to a different value.
func mutate(t *testing.T, r Request, i int) Request {
	t.Helper()
	v := reflect.ValueOf(&r).Elem().Field(i)
	switch v.Kind() {
	case reflect.String:
		v.SetString(v.String() + "x")
	case reflect.Bool:
		v.SetBool(!v.Bool())
	case reflect.Int:
		v.SetInt(v.Int() + 1)
	case reflect.Float64:
		v.SetFloat(v.Float() / 2)
	case reflect.Slice:
		v.Set(reflect.Append(v, reflect.ValueOf(".")))
	default:
		t.Fatalf("field %s has unhandled kind %s", reflect.TypeOf(r).Field(i).Name, v.Kind())
	}
	return r
}

func TestFingerprint_Sensitivity(t *testing.T) {
	base := DefaultRequest()
	base.Response = "busy medieval streets"
	baseFP, err := FingerprintOf("pileval", base)
	if err != nil {
		t.Fatal(err)
	}

	again, _ := FingerprintOf("pileval", base)
	if again != baseFP {
		t.Error("identical requests should share a fingerprint")
	}

	typ := reflect.TypeOf(base)
	for i := 0; i < typ.NumField(); i++ {
		t.Run(typ.Field(i).Name, func(t *testing.T) {
			fp, err := FingerprintOf("pileval", mutate(t, base, i))
			if err != nil {
				t.Fatal(err)
			}
			if fp == baseFP {
				t.Errorf("changing %s did not change the fingerprint", typ.Field(i).Name)
			}
		})
	}

	t.Run("index", func(t *testing.T) {
		fp, _ := FingerprintOf("olmo", base)
		if fp == baseFP {
			t.Error("different indexes should not share a fingerprint")
		}
	})

	t.Run("min length 1 to 2", func(t *testing.T) {
		changed := base
		changed.MinimumSpanLength = 2
		fp, _ := FingerprintOf("pileval", changed)
		if fp == baseFP {
			t.Error("minimumSpanLength 1 -> 2 kept the fingerprint")
		}
	})
}

func TestFingerprint_NilDelimitersNormalized(t *testing.T) {
	a := DefaultRequest()
	a.Response = "r"
	b := a
	b.Delimiters = nil

	fa, _ := FingerprintOf("pileval", a)
	fb, _ := FingerprintOf("pileval", b)
	if fa != fb {
		t.Error("nil and empty delimiters should fingerprint the same")
	}
	if len(fa.String()) != 64 {
		t.Errorf("String() = %q, want 64 hex chars", fa.String())
	}
}

func TestRequest_Args(t *testing.T) {
	req := DefaultRequest()
	req.Response = "hello"
	req.Delimiters = nil

	data, err := json.Marshal(req.Args("pileval"))
	if err != nil {
		t.Fatal(err)
	}
	var args map[string]interface{}
	if err := json.Unmarshal(data, &args); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		"index", "input", "delimiters", "allow_spans_with_partial_words",
		"minimum_span_length", "maximum_frequency", "maximum_span_density",
		"span_ranking_method", "maximum_context_length", "maximum_context_length_long",
		"maximum_context_length_snippet", "maximum_documents_per_span",
	} {
		if _, ok := args[name]; !ok {
			t.Errorf("job args missing %q", name)
		}
	}
	if args["input"] != "hello" || args["index"] != "pileval" {
		t.Errorf("args = %v", args)
	}
	if d, ok := args["delimiters"].([]interface{}); !ok || len(d) != 0 {
		t.Errorf("delimiters = %v, want []", args["delimiters"])
	}
}
