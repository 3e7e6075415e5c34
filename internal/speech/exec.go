package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExecSynthesizer speaks through a local command line synthesizer that accepts espeak-ng
// style flags (-v voice, -a amplitude 0-200, -s words per minute, -p pitch 0-99).
type ExecSynthesizer struct {
	path string
}

// NewExecSynthesizer resolves command on PATH. The error reports that synthesis is unavailable.
func NewExecSynthesizer(command string) (*ExecSynthesizer, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("tts command not configured")
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("tts command %q: %w", command, err)
	}
	return &ExecSynthesizer{path: path}, nil
}

func (e *ExecSynthesizer) Speak(ctx context.Context, u Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, e.path, execArgs(u)...)
	cmd.Stdin = strings.NewReader(u.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("tts command failed: %w: %s", err, firstLine(stderr.String()))
	}
	return nil
}

// Voices lists what the command reports for --voices, best effort.
func (e *ExecSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	out, err := exec.CommandContext(ctx, e.path, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseVoiceList(out), nil
}

func execArgs(u Utterance) []string {
	args := make([]string, 0, 10)
	voice := u.Voice
	if voice == "" {
		voice = LangPrefix(u.Lang)
	}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	volume := u.Volume
	if volume <= 0 {
		volume = 1
	}
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	pitch := u.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	args = append(args,
		"-a", strconv.Itoa(int(clamp(volume, 0, 1)*100)),
		"-s", strconv.Itoa(int(clamp(rate, 0.1, 10)*175)),
		"-p", strconv.Itoa(int(clamp(pitch*50, 0, 99))),
		"--stdin",
	)
	return args
}

// parseVoiceList reads espeak-ng's voice table: "Pty Language Age/Gender VoiceName File ...".
func parseVoiceList(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, Voice{Name: fields[3], Lang: fields[1]})
	}
	return voices
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
