package embedding

import (
	"fmt"
	"os"
)

// ONNXOptions describes a sentence-embedding model exported to ONNX. The model must
// produce a pooled [1, Dimensions] output named OutputName.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	// InputNames lists input_ids and attention_mask, optionally followed by token_type_ids.
	InputNames []string
	OutputName string
}

func (o ONNXOptions) validate() error {
	if o.ModelPath == "" {
		return fmt.Errorf("onnx: model path is required")
	}
	if _, err := os.Stat(o.ModelPath); err != nil {
		return fmt.Errorf("onnx: model file: %w", err)
	}
	if o.Dimensions <= 0 || o.MaxTokens <= 2 {
		return fmt.Errorf("onnx: dimensions and max tokens must be positive (got %d, %d)", o.Dimensions, o.MaxTokens)
	}
	if n := len(o.InputNames); n != 2 && n != 3 {
		return fmt.Errorf("onnx: expected 2 or 3 input names, got %d", n)
	}
	if o.OutputName == "" {
		return fmt.Errorf("onnx: output name is required")
	}
	return nil
}
