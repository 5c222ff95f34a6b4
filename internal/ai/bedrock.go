package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockInvoker is the subset of the Bedrock runtime client used here.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient implements Embedder and Completer on AWS Bedrock, keeping
// all traffic inside AWS. Titan serves embeddings; Claude serves the
// multiple-choice fallback.
type BedrockClient struct {
	client       BedrockInvoker
	embedModelID string
	chatModelID  string
}

// NewBedrockClient loads the default AWS config for region and returns a
// ready client.
func NewBedrockClient(ctx context.Context, region, embedModelID, chatModelID string) (*BedrockClient, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewBedrockClientFromInvoker(bedrockruntime.NewFromConfig(cfg), embedModelID, chatModelID), nil
}

// NewBedrockClientFromInvoker wires an existing invoker (tests inject fakes
// here).
func NewBedrockClientFromInvoker(client BedrockInvoker, embedModelID, chatModelID string) *BedrockClient {
	if embedModelID == "" {
		embedModelID = "amazon.titan-embed-text-v2:0"
	}
	if chatModelID == "" {
		chatModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	return &BedrockClient{client: client, embedModelID: embedModelID, chatModelID: chatModelID}
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed requests one Titan vector per text. Titan takes a single input per
// invocation, so a batch is a sequence of calls under the caller's context.
func (b *BedrockClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(titanEmbedRequest{InputText: text})
		if err != nil {
			return nil, err
		}
		resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(b.embedModelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, &CapabilityError{Provider: "bedrock", Op: "embed", Err: err}
		}
		var parsed titanEmbedResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, &CapabilityError{Provider: "bedrock", Op: "embed", Err: fmt.Errorf("parse response: %w", err)}
		}
		if len(parsed.Embedding) == 0 {
			return nil, &CapabilityError{Provider: "bedrock", Op: "embed", Err: fmt.Errorf("empty vector for input %d", i)}
		}
		out[i] = parsed.Embedding
	}
	return out, nil
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
	Temperature      float64         `json:"temperature,omitempty"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// MatchTerms asks Claude to pick the closest authorized term per value.
func (b *BedrockClient) MatchTerms(ctx context.Context, values, terms []string) (map[string]string, error) {
	if len(values) == 0 {
		return map[string]string{}, nil
	}

	payload, err := json.Marshal(map[string][]string{"values": values, "terms": terms})
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(claudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        2000,
		System:           matchTermsSystemPrompt,
		Messages:         []claudeMessage{{Role: "user", Content: string(payload)}},
		Temperature:      0.2,
	})
	if err != nil {
		return nil, err
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.chatModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, &CapabilityError{Provider: "bedrock", Op: "match_terms", Err: err}
	}

	var parsed claudeResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &CapabilityError{Provider: "bedrock", Op: "match_terms", Err: fmt.Errorf("parse response: %w", err)}
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	out, err := parseChoiceJSON(text)
	if err != nil {
		return nil, &CapabilityError{Provider: "bedrock", Op: "match_terms", Err: err}
	}
	return out, nil
}
