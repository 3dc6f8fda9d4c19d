package intelligence

import "testing"

func TestExtract_PlainJSON(t *testing.T) {
	out := Extract(`{"items":[{"kind":"fact","text":"likes espresso","confidence":0.9}],"actions":[]}`)
	if len(out.Items) != 1 || out.Items[0].Text != "likes espresso" {
		t.Fatalf("unexpected extraction: %+v", out)
	}
}

func TestExtract_MarkdownFenced(t *testing.T) {
	in := "```json\n{\"items\":[{\"kind\":\"preference\",\"text\":\"prefers dark mode\",\"confidence\":0.8}],\"actions\":[]}\n```"
	out := Extract(in)
	if len(out.Items) != 1 || out.Items[0].Kind != "preference" {
		t.Fatalf("unexpected extraction: %+v", out)
	}
}

func TestExtract_FenceWithoutLanguageTag(t *testing.T) {
	in := "```\n{\"items\":[],\"actions\":[{\"kind\":\"reminder\",\"detail\":\"call mom\"}]}\n```"
	out := Extract(in)
	if len(out.Actions) != 1 || out.Actions[0].Detail != "call mom" {
		t.Fatalf("unexpected extraction: %+v", out)
	}
}

func TestExtract_SurroundingProse(t *testing.T) {
	in := "Sure, here's what I found:\n{\"items\":[{\"kind\":\"event\",\"text\":\"dentist on Friday\",\"confidence\":0.7}],\"actions\":[]}\nLet me know if that helps."
	out := Extract(in)
	if len(out.Items) != 1 || out.Items[0].Text != "dentist on Friday" {
		t.Fatalf("unexpected extraction: %+v", out)
	}
}

func TestExtract_MalformedJSONFallsBackEmpty(t *testing.T) {
	out := Extract(`{"items": [ this is not json`)
	if len(out.Items) != 0 || len(out.Actions) != 0 {
		t.Fatalf("expected empty extraction, got %+v", out)
	}
}

func TestExtract_PlainProseFallsBackEmpty(t *testing.T) {
	out := Extract("Just a normal reply with no structured data at all.")
	if len(out.Items) != 0 || len(out.Actions) != 0 {
		t.Fatalf("expected empty extraction, got %+v", out)
	}
}

func TestExtract_CapsAtTenItems(t *testing.T) {
	items := `{"kind":"fact","text":"x","confidence":0.5},`
	var payload string
	for i := 0; i < 15; i++ {
		payload += items
	}
	payload = payload[:len(payload)-1] // trim trailing comma
	out := Extract(`{"items":[` + payload + `],"actions":[]}`)
	if len(out.Items) != 10 {
		t.Fatalf("expected 10 items, got %d", len(out.Items))
	}
}

func TestExtract_DropsEmptyText(t *testing.T) {
	out := Extract(`{"items":[{"kind":"fact","text":"","confidence":0.5},{"kind":"fact","text":"real","confidence":0.5}],"actions":[]}`)
	if len(out.Items) != 1 || out.Items[0].Text != "real" {
		t.Fatalf("unexpected extraction: %+v", out)
	}
}
