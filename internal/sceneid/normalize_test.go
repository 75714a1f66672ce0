package sceneid

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"oval":          "oval",
		"Oval":          "oval",
		"  Oval Track ": "oval-track",
		"oval_track":    "oval-track",
		"Scene_Figure8": "figure8",
		"figure8-scene": "figure8",
		"scene":         "scene",
		"scene-scene":   "scene",
		"../etc/passwd": "etcpasswd",
		"city__loop":    "city-loop",
		"desert/loop#2": "desertloop2",
		"-":             "",
		"":              "",
	}

	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("normalize(%q)=%q want=%q", in, got, want)
		}
	}
}
