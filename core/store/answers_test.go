package store

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestAnswersKeepOrder(t *testing.T) {
	var a Answers
	a.Set("Name?", "Ann")
	a.Set("Age?", "30")
	a.Set("Name?", "Anna")

	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"Name?":"Anna","Age?":"30"}` {
		t.Fatalf("unexpected json %s", b)
	}

	var back Answers
	if err := json.Unmarshal([]byte(`{"z":"1","a":"2","m":3}`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back.Keys(), []string{"z", "a", "m"}) {
		t.Fatalf("unexpected order %v", back.Keys())
	}
	if v, _ := back.Get("m"); v != "3" {
		t.Fatalf("non-string value should be kept as raw text, got %q", v)
	}
}

func TestAnswersScan(t *testing.T) {
	var a Answers
	if err := a.Scan([]byte(`{"q":"a"}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if v, ok := a.Get("q"); !ok || v != "a" {
		t.Fatalf("unexpected value %q", v)
	}
	if err := a.Scan(nil); err != nil || a.Len() != 0 {
		t.Fatalf("nil scan should reset, len=%d err=%v", a.Len(), err)
	}
	if v, err := (Answers{}).Value(); err != nil || v != "{}" {
		t.Fatalf("empty value should be {}, got %v %v", v, err)
	}
}
