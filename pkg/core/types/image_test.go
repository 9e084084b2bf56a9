package types

import "testing"

func TestClassifyImagePayload_PrecedenceOrder(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantKind ImageOutcomeKind
		wantText string
	}{
		{
			name:     "result wins over error and message",
			body:     `{"result":"a rash consistent with ringworm","error":"ignored","message":"ignored"}`,
			wantKind: ImageOutcomeResult,
			wantText: "a rash consistent with ringworm",
		},
		{
			name:     "description normalizes to result rank",
			body:     `{"description":"an X-ray of a healthy wrist","message":"Image processed successfully"}`,
			wantKind: ImageOutcomeResult,
			wantText: "an X-ray of a healthy wrist",
		},
		{
			name:     "error wins over message",
			body:     `{"error":"image too blurry","message":"Image processed successfully"}`,
			wantKind: ImageOutcomeError,
			wantText: "image too blurry",
		},
		{
			name:     "message when nothing else",
			body:     `{"message":"Image processed successfully"}`,
			wantKind: ImageOutcomeMessage,
			wantText: "Image processed successfully",
		},
		{
			name:     "empty object falls back",
			body:     `{}`,
			wantKind: ImageOutcomeEmpty,
		},
		{
			name:     "non-object falls back to unexpected",
			body:     `"just a string"`,
			wantKind: ImageOutcomeUnexpected,
		},
		{
			name:     "garbage falls back to unexpected",
			body:     `{"result": `,
			wantKind: ImageOutcomeUnexpected,
		},
		{
			name:     "empty body falls back to unexpected",
			body:     ``,
			wantKind: ImageOutcomeUnexpected,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyImagePayload([]byte(tc.body))
			if got.Kind != tc.wantKind {
				t.Fatalf("ClassifyImagePayload() kind = %s, want %s", got.Kind, tc.wantKind)
			}
			if tc.wantText != "" && got.Text != tc.wantText {
				t.Fatalf("ClassifyImagePayload() text = %q, want %q", got.Text, tc.wantText)
			}
			if got.Text == "" {
				t.Fatal("ClassifyImagePayload() returned empty display text")
			}
		})
	}
}
