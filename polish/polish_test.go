package polish

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/counselor/llm"
)

type recordingClient struct {
	reply    string
	err      error
	messages []llm.Message
}

func (r *recordingClient) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	r.messages = messages
	return r.reply, r.err
}

func catalogClients(client llm.Client) ClientFunc {
	catalog := llm.DefaultCatalog()
	return func(label string) (llm.Client, error) {
		if _, err := catalog.Lookup(label); err != nil {
			return nil, err
		}
		return client, nil
	}
}

func TestImproveSendsPrompts(t *testing.T) {
	client := &recordingClient{reply: "```python\nprint(sum(range(10)))\n```"}
	p := New(catalogClients(client), nil, nil)

	out, err := p.Improve(context.Background(), "total = 0\nfor i in range(10):\n    total += i", "Claude")
	require.NoError(t, err)
	assert.Equal(t, "print(sum(range(10)))", out)

	require.Len(t, client.messages, 2)
	assert.Equal(t, llm.RoleSystem, client.messages[0].Role)
	assert.Contains(t, client.messages[0].Content, "Python code optimization expert")
	assert.Equal(t, "Please improve this Python code:\n\ntotal = 0\nfor i in range(10):\n    total += i", client.messages[1].Content)
}

func TestImproveDefaultsLabel(t *testing.T) {
	var seen string
	p := New(func(label string) (llm.Client, error) {
		seen = label
		return &recordingClient{reply: "x = 1"}, nil
	}, nil, nil)

	_, err := p.Improve(context.Background(), "x=1", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultLabel, seen)
}

func TestImproveUnknownLabel(t *testing.T) {
	p := New(catalogClients(&recordingClient{}), nil, nil)

	_, err := p.Improve(context.Background(), "x = 1", "Gemini")
	var unknown *llm.UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Gemini", unknown.Key)
}

func TestImproveRejectsEmptyCode(t *testing.T) {
	p := New(catalogClients(&recordingClient{}), nil, nil)
	_, err := p.Improve(context.Background(), "  \n", "GPT-4")
	assert.ErrorContains(t, err, "empty")
}

func TestImproveWrapsClientError(t *testing.T) {
	cause := errors.New("quota exceeded")
	p := New(catalogClients(&recordingClient{err: cause}), nil, nil)

	_, err := p.Improve(context.Background(), "x = 1", "GPT-3.5")
	assert.ErrorIs(t, err, cause)
	assert.ErrorContains(t, err, "GPT-3.5")
}

func TestStripFence(t *testing.T) {
	cases := map[string]string{
		"plain code":                   "plain code",
		"```\ncode\n```":               "code",
		"```python\na = 1\nb = 2\n```": "a = 1\nb = 2",
		"  ```py\nx\n```  \n":          "x",
		"```":                          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripFence(in), "input %q", in)
	}
}
