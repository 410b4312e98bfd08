package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "AMM-Agent/internal/errors"

	"github.com/stretchr/testify/require"
)

func TestQuoteEnvelope(t *testing.T) {
	content, err := quoteEnvelope("run_agent", "r-1", "0xa", "0xb", "100")
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(content), &env))
	require.Equal(t, "run_agent", env["event"])
	require.Equal(t, "r-1", env["request_id"])

	// message travels as a JSON string holding the request.
	message, ok := env["message"].(string)
	require.True(t, ok)
	var inner map[string]string
	require.NoError(t, json.Unmarshal([]byte(message), &inner))
	require.Equal(t, map[string]string{"token_in": "0xa", "token_out": "0xb", "amount_in": "100"}, inner)

	_, err = quoteEnvelope("run_agent", "r-1", "0xa", "", "100")
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestNewRequestIDIsBytes32(t *testing.T) {
	id := newRequestID()
	require.True(t, strings.HasPrefix(id, "0x"))
	require.Len(t, id, 66)
	require.NotEqual(t, id, newRequestID())
}

func TestParseAssignments(t *testing.T) {
	pairs, err := parseAssignments([]string{"master_account_id=0xabc", "empty=", "k=a=b"})
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"master_account_id", "0xabc"}, {"empty", ""}, {"k", "a=b"}}, pairs)

	for _, args := range [][]string{nil, {"novalue"}, {"=x"}} {
		_, err := parseAssignments(args)
		require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err), "%q", args)
	}
}

func TestRunWritesThreadFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "ammagent.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
  "agent": {"contract_id": "0x00000000000000000000000000000000000000aa"},
  "host": {"driver": "file", "file": {"thread_path": "thread.json", "reply_path": "replies.jsonl"}},
  "log": {"level": "error"}
}`), 0o600))
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"setenv", "-config", configPath, "master_account_id=0xabc"}, &out))
	require.NoError(t, run(ctx, []string{"enqueue", "-config", configPath,
		"-token-in", "0xa", "-token-out", "0xb", "-amount-in", "100", "-request-id", "r-7"}, &out))

	raw, err := os.ReadFile(filepath.Join(dir, "thread.json"))
	require.NoError(t, err)
	var thread struct {
		SignerAccountID string            `json:"signer_account_id"`
		EnvVars         map[string]string `json:"env_vars"`
		Messages        []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(raw, &thread))
	require.Equal(t, "ai-is-near.near", thread.SignerAccountID)
	require.Equal(t, "0xabc", thread.EnvVars["master_account_id"])
	require.Len(t, thread.Messages, 1)
	require.Equal(t, "user", thread.Messages[0].Role)
	require.Contains(t, thread.Messages[0].Content, `"request_id":"r-7"`)
	require.Contains(t, out.String(), "r-7")
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"drain"}, &out)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	require.Contains(t, out.String(), "ammctl enqueue")

	err = run(context.Background(), nil, &out)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
