package static

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"go.viam.com/segcam/ml"
	"go.viam.com/segcam/services/mlmodel"
)

func TestNewModelValidation(t *testing.T) {
	_, err := NewModel(Config{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "canned outputs")

	_, err = NewModel(Config{Outputs: ml.Tensors{}, Backend: "edgetpu"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "edgetpu")

	_, err = NewModel(Config{Outputs: ml.Tensors{}, Backend: "cpu"})
	test.That(t, err, test.ShouldBeNil)
}

func TestStaticModel(t *testing.T) {
	ctx := context.Background()
	canned := ml.Tensors{
		"scores": tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, 2, 3, 4})),
	}
	md := mlmodel.MLMetadata{ModelName: "canned"}
	svc, err := NewModel(Config{Metadata: md, Outputs: canned})
	test.That(t, err, test.ShouldBeNil)

	gotMD, err := svc.Metadata(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotMD.ModelName, test.ShouldEqual, "canned")

	out, err := svc.Infer(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out["scores"].Data(), test.ShouldResemble, []float32{1, 2, 3, 4})

	test.That(t, svc.Close(ctx), test.ShouldBeNil)
	_, err = svc.Infer(ctx, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "closed")
	test.That(t, svc.Close(ctx), test.ShouldNotBeNil)
}

func TestStaticModelInferFunc(t *testing.T) {
	ctx := context.Background()
	svc, err := NewModel(Config{
		InferFunc: func(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
			return nil, errors.New("injected")
		},
	})
	test.That(t, err, test.ShouldBeNil)
	_, err = svc.Infer(ctx, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "injected")
}
