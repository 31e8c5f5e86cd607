package execx

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"testing"
)

func stubLookPath(t *testing.T, found ...string) {
	t.Helper()
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(file string) (string, error) {
		if slices.Contains(found, file) {
			return "/usr/bin/" + file, nil
		}
		return "", exec.ErrNotFound
	}
}

func TestBuildArgs(t *testing.T) {
	got := BuildFFmpegArgs("in.wav", "out.mp3", 192)
	want := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", "in.wav",
		"-codec:a", "libmp3lame", "-b:a", "192k", "out.mp3"}
	if !slices.Equal(got, want) {
		t.Fatalf("ffmpeg args: got %v, want %v", got, want)
	}

	got = BuildLameArgs("in.wav", "out.mp3", 128)
	want = []string{"--quiet", "-b", "128", "in.wav", "out.mp3"}
	if !slices.Equal(got, want) {
		t.Fatalf("lame args: got %v, want %v", got, want)
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		pref     string
		found    []string
		wantName string
		wantNil  bool
		wantErr  bool
		avail    bool
	}{
		{name: "auto prefers ffmpeg", pref: "auto", found: []string{"ffmpeg", "lame"}, wantName: "ffmpeg", avail: true},
		{name: "auto falls back to lame", pref: "", found: []string{"lame"}, wantName: "lame", avail: true},
		{name: "auto with nothing", pref: "auto", wantName: "none"},
		{name: "explicit missing ffmpeg", pref: "ffmpeg", wantName: "ffmpeg"},
		{name: "none", pref: "none", wantNil: true},
		{name: "unknown", pref: "flac", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stubLookPath(t, tc.found...)
			c, err := Detect(tc.pref, 0)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tc.wantNil {
				if c != nil {
					t.Fatalf("expected nil compressor, got %s", c.Name())
				}
				return
			}
			if c.Name() != tc.wantName {
				t.Fatalf("got %s, want %s", c.Name(), tc.wantName)
			}
			if c.Available() != tc.avail {
				t.Fatalf("unexpected availability %v", c.Available())
			}
		})
	}
}

func TestUnavailableTranscode(t *testing.T) {
	c := Unavailable("testing")
	err := c.Transcode(context.Background(), "a.wav", "a.mp3")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unexpected error %v", err)
	}
}
