package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kotoba/internal/kotoba/config"
	"github.com/bdobrica/Kotoba/internal/kotoba/session"
)

type scriptedChat struct {
	got []string
}

func (s *scriptedChat) Status(id string) session.Status {
	return session.Status{SessionID: id, Prompt: "请告诉我您的名字。"}
}

func (s *scriptedChat) Chat(_ context.Context, _ string, text string) (session.Reply, error) {
	s.got = append(s.got, text)
	switch text {
	case "":
		return session.Reply{}, &session.InvalidInputError{Message: "please enter a message"}
	case "再见":
		return session.Reply{Success: true, Text: "再见！", Status: session.Status{Terminated: true}}, nil
	}
	return session.Reply{Success: true, Text: "reply:" + text}, nil
}

func testCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(out)
	return cmd
}

func TestChatLoop(t *testing.T) {
	var out bytes.Buffer
	chat := &scriptedChat{}
	in := strings.NewReader("小明\n\n再见\nnever read\n")

	if err := chatLoop(testCommand(&out), chat, "cli", in, &out); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if len(chat.got) != 3 {
		t.Fatalf("messages sent = %q, want 3 (stop after goodbye)", chat.got)
	}
	for _, want := range []string{"请告诉我您的名字。", "reply:小明", "please enter a message", "再见！"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestChatLoop_EOF(t *testing.T) {
	var out bytes.Buffer
	if err := chatLoop(testCommand(&out), &scriptedChat{}, "cli", strings.NewReader(""), &out); err != nil {
		t.Fatalf("chatLoop on empty input: %v", err)
	}
}

func TestRunClassify(t *testing.T) {
	cfg := config.Default()
	holder = config.NewHolder(&cfg)
	t.Cleanup(func() { holder = nil })

	var out bytes.Buffer
	if err := runClassify(testCommand(&out), []string{"zzz", "qqq"}); err != nil {
		t.Fatalf("runClassify: %v", err)
	}
	var intents []map[string]any
	if err := json.Unmarshal(out.Bytes(), &intents); err != nil {
		t.Fatalf("output is not a JSON array: %v\n%s", err, out.String())
	}
	if len(intents) != 1 || intents[0]["type"] != "chat" || intents[0]["confidence"] != 1.0 {
		t.Errorf("intents = %v, want a single chat intent at 1.0", intents)
	}
	if intents[0]["raw_text"] != "zzz qqq" {
		t.Errorf("raw_text = %v", intents[0]["raw_text"])
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })
	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(out.String(), "kotoba v") {
		t.Errorf("version output = %q", out.String())
	}
}
