package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/tars/internal/chatstream"
	"github.com/ent0n29/tars/internal/segment"
)

type options struct {
	baseURL        string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

// turnSample holds the latencies of one replayed turn, measured from the request.
type turnSample struct {
	FirstChunk    time.Duration
	FirstSentence time.Duration
	Total         time.Duration
	Bytes         int
	Sentences     int
}

var defaultUtterances = []string{
	"Hola, ¿cómo estás?",
	"Cuéntame algo breve sobre el espacio.",
	"¿Qué hora es en Tokio?",
	"Resume la conversación en una frase.",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("perfchat", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8000", "chat backend base URL")
	fs.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout per streamed reply in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "messages separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty messages")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	client := chatstream.NewClient(cfg.baseURL, cfg.turnTimeout)
	sessionID, err := client.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("perfchat: session=%s turns=%d\n", sessionID, cfg.turns)
	}

	samples := make([]turnSample, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		turnCtx, turnCancel := context.WithTimeout(ctx, cfg.turnTimeout)
		sample, next, err := measureTurn(turnCtx, client, text, sessionID)
		turnCancel()
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if next != "" {
			sessionID = next
		}
		samples = append(samples, sample)
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d/%d first_chunk=%s first_sentence=%s total=%s bytes=%d sentences=%d\n",
				i+1, cfg.turns, sample.FirstChunk, sample.FirstSentence, sample.Total, sample.Bytes, sample.Sentences)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(os.Stdout, samples)
	return nil
}

// measureTurn streams one reply and times it the way the client perceives it: first chunk
// on screen, first complete sentence ready to speak, and the end of the stream.
func measureTurn(ctx context.Context, client *chatstream.Client, text, sessionID string) (turnSample, string, error) {
	var sample turnSample
	start := time.Now()
	stream, err := client.Open(ctx, text, sessionID)
	if err != nil {
		return sample, "", err
	}
	defer stream.Close()

	seg := segment.New()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sample, "", err
		}
		if chunk == "" {
			continue
		}
		if sample.Bytes == 0 {
			sample.FirstChunk = time.Since(start)
		}
		sample.Bytes += len(chunk)
		if n := len(seg.Push(chunk)); n > 0 {
			if sample.Sentences == 0 {
				sample.FirstSentence = time.Since(start)
			}
			sample.Sentences += n
		}
	}
	if _, ok := seg.Flush(); ok {
		if sample.Sentences == 0 {
			sample.FirstSentence = time.Since(start)
		}
		sample.Sentences++
	}
	sample.Total = time.Since(start)
	return sample, stream.SessionID(), nil
}

func printSummary(w io.Writer, samples []turnSample) {
	if len(samples) == 0 {
		return
	}
	stages := []struct {
		name string
		pick func(turnSample) time.Duration
	}{
		{"first_chunk", func(s turnSample) time.Duration { return s.FirstChunk }},
		{"first_sentence", func(s turnSample) time.Duration { return s.FirstSentence }},
		{"total", func(s turnSample) time.Duration { return s.Total }},
	}
	fmt.Fprintf(w, "perfchat: %d turns\n", len(samples))
	for _, st := range stages {
		values := make([]time.Duration, 0, len(samples))
		for _, s := range samples {
			values = append(values, st.pick(s))
		}
		fmt.Fprintf(w, "  %-15s p50=%-10s p95=%-10s max=%s\n", st.name,
			percentile(values, 0.50), percentile(values, 0.95), percentile(values, 1))
	}
}

// percentile uses nearest rank over a sorted copy.
func percentile(values []time.Duration, q float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if q <= 0 {
		return sorted[0]
	}
	idx := int(float64(len(sorted))*q+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
