package embedding

import (
	"context"
	"errors"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// VertexModel calls a Vertex AI text embedding model (text-embedding-005 by
// default) through the prediction endpoint.
type VertexModel struct {
	client   *aiplatform.PredictionClient
	endpoint string
}

var _ Model = (*VertexModel)(nil)

// NewVertexModel dials the regional endpoint. credentialsFile may be empty
// to fall back to Application Default Credentials.
func NewVertexModel(ctx context.Context, projectID, location, model, credentialsFile string) (*VertexModel, error) {
	opts := []option.ClientOption{
		option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", location)),
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := aiplatform.NewPredictionClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	return &VertexModel{
		client:   client,
		endpoint: fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", projectID, location, model),
	}, nil
}

// Embed sends all texts as instances of a single prediction request, each
// tagged with the retrieval task type so document and query vectors align.
func (v *VertexModel) Embed(ctx context.Context, task Task, texts []string) ([][]float32, error) {
	instances := make([]*structpb.Value, len(texts))
	for i, text := range texts {
		instance, err := structpb.NewStruct(map[string]interface{}{
			"content":   text,
			"task_type": string(task),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create instance: %w", err)
		}
		instances[i] = structpb.NewStructValue(instance)
	}

	params, err := structpb.NewValue(map[string]interface{}{"autoTruncate": true})
	if err != nil {
		return nil, fmt.Errorf("failed to create parameters: %w", err)
	}

	resp, err := v.client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:   v.endpoint,
		Instances:  instances,
		Parameters: params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return decodePredictions(resp.GetPredictions())
}

// decodePredictions extracts predictions[i].embeddings.values.
func decodePredictions(predictions []*structpb.Value) ([][]float32, error) {
	if len(predictions) == 0 {
		return nil, errors.New("no predictions returned")
	}
	out := make([][]float32, len(predictions))
	for i, p := range predictions {
		embeddings := p.GetStructValue().GetFields()["embeddings"].GetStructValue()
		values := embeddings.GetFields()["values"].GetListValue().GetValues()
		if len(values) == 0 {
			return nil, fmt.Errorf("prediction %d has no embedding values", i)
		}
		vec := make([]float32, len(values))
		for j, val := range values {
			vec[j] = float32(val.GetNumberValue())
		}
		out[i] = vec
	}
	return out, nil
}

// Close releases the Vertex AI client resources.
func (v *VertexModel) Close() error {
	return v.client.Close()
}
