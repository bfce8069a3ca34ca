package access

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
)

func TestDefaultBucket(t *testing.T) {
	tests := []struct {
		ctx  model.ContextType
		want string
	}{
		{model.ContextUser, "user-files"},
		{model.ContextOrganization, "organizations"},
		{model.ContextApplication, "apps"},
		{model.ContextPlatform, "platform"},
		{"team", "public"},
		{"", "public"},
	}
	for _, tt := range tests {
		if got := DefaultBucket(tt.ctx); got != tt.want {
			t.Errorf("DefaultBucket(%q) = %q, ожидается %q", tt.ctx, got, tt.want)
		}
	}
}

func TestIsKnownBucket(t *testing.T) {
	for _, b := range Buckets() {
		if !IsKnownBucket(b) {
			t.Errorf("IsKnownBucket(%q) = false", b)
		}
	}
	if IsKnownBucket("backups") {
		t.Error("IsKnownBucket(backups) = true, набор бакетов закрыт")
	}
}

func TestDefaultVisibility(t *testing.T) {
	v, err := DefaultVisibility(nil, "")
	if err != nil {
		t.Fatalf("DefaultVisibility: %v", err)
	}
	if v.IsPublic || v.AccessLevel != model.AccessPrivate {
		t.Errorf("значения по умолчанию = %+v, ожидается {false private}", v)
	}

	yes := true
	v, err = DefaultVisibility(&yes, "Organization")
	if err != nil {
		t.Fatalf("DefaultVisibility: %v", err)
	}
	if !v.IsPublic || v.AccessLevel != model.AccessOrganization {
		t.Errorf("DefaultVisibility = %+v, ожидается {true organization}", v)
	}

	if _, err := DefaultVisibility(nil, "secret"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("неизвестный уровень: err = %v, ожидается ErrInvalidValue", err)
	}
}

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		in      any
		want    bool
		wantErr bool
	}{
		{true, true, false},
		{false, false, false},
		{"true", true, false},
		{"TRUE", true, false},
		{"1", true, false},
		{"false", false, false},
		{"", false, false},
		{float64(1), true, false},
		{0, false, false},
		{"maybe", false, true},
		{float64(2), false, true},
		{nil, false, true},
	}
	for _, tt := range tests {
		got, err := CoerceBool(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CoerceBool(%#v) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CoerceBool(%#v) = %v, ожидается %v", tt.in, got, tt.want)
		}
	}
}

func TestFlexBool_UnmarshalJSON(t *testing.T) {
	var req struct {
		A *FlexBool `json:"a"`
		B *FlexBool `json:"b"`
		C *FlexBool `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": "true", "b": false}`), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p := req.A.Ptr(); p == nil || !*p {
		t.Errorf("a = %v, ожидается true", p)
	}
	if p := req.B.Ptr(); p == nil || *p {
		t.Errorf("b = %v, ожидается false", p)
	}
	if req.C.Ptr() != nil {
		t.Error("c должен остаться nil")
	}

	if err := json.Unmarshal([]byte(`{"a": "nope"}`), &req); err == nil {
		t.Error("ожидается ошибка для \"nope\"")
	}
}

func TestResolveContext(t *testing.T) {
	auth := model.AuthContext{UserID: "u1", OrgID: "o1", AppID: "a1"}

	tests := []struct {
		name    string
		ctx     model.ContextType
		id      string
		auth    model.AuthContext
		wantCtx model.ContextType
		wantID  string
		wantErr error
	}{
		{"по умолчанию user", "", "", auth, model.ContextUser, "u1", nil},
		{"явный id", model.ContextUser, "u2", auth, model.ContextUser, "u2", nil},
		{"organization из auth", model.ContextOrganization, "", auth, model.ContextOrganization, "o1", nil},
		{"application из auth", model.ContextApplication, "", auth, model.ContextApplication, "a1", nil},
		{"platform", model.ContextPlatform, "", model.AuthContext{}, model.ContextPlatform, "platform", nil},
		{"анонимный user", model.ContextUser, "", model.AuthContext{}, model.ContextUser, model.AnonymousCreator, nil},
		{"organization без orgId", model.ContextOrganization, "", model.AuthContext{UserID: "u1"}, "", "", ErrMissingContext},
		{"неизвестный тип", "team", "t1", auth, "", "", ErrInvalidValue},
		{"обход пути", model.ContextUser, "../etc", auth, "", "", ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCtx, gotID, err := ResolveContext(tt.ctx, tt.id, tt.auth)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, ожидается %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveContext: %v", err)
			}
			if gotCtx != tt.wantCtx || gotID != tt.wantID {
				t.Errorf("ResolveContext = (%q, %q), ожидается (%q, %q)", gotCtx, gotID, tt.wantCtx, tt.wantID)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"u1", "org-42", "f47ac10b-58cc-4372-a567-0e02b2c3d479", "имя"}
	for _, id := range valid {
		if err := ValidateIdentifier("id", id); err != nil {
			t.Errorf("ValidateIdentifier(%q) = %v", id, err)
		}
	}

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	invalid := []string{"", "a/b", `a\b`, "..", "a\x00b", string(long)}
	for _, id := range invalid {
		if err := ValidateIdentifier("id", id); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("ValidateIdentifier(%q) = %v, ожидается ErrInvalidValue", id, err)
		}
	}
}
