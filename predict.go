package fedtrain

import (
	"fmt"
)

// Predictor serves success probabilities from a persisted model bundle.
// Dropout is never active here; the network runs exactly as aggregated.
type Predictor struct {
	net      *network
	scaler   *StandardScaler
	manifest Manifest
}

// LoadPredictor loads the bundle from a store. If no model has been
// persisted yet it returns ErrModelNotFound; callers should degrade
// gracefully (respond "model not ready") rather than crash.
func LoadPredictor(store *ModelStore) (*Predictor, error) {
	bundle, err := store.Load()
	if err != nil {
		return nil, err
	}

	net, err := newNetwork(bundle.Manifest.Architecture, bundle.Params)
	if err != nil {
		return nil, &PersistenceError{Message: "persisted parameters do not match manifest architecture", Cause: err}
	}
	if bundle.Scaler.NumFeatures() != bundle.Manifest.Architecture.InputSize {
		return nil, &PersistenceError{
			Message: fmt.Sprintf("scaler width %d does not match model input %d",
				bundle.Scaler.NumFeatures(), bundle.Manifest.Architecture.InputSize),
		}
	}

	return &Predictor{net: net, scaler: bundle.Scaler, manifest: bundle.Manifest}, nil
}

// Predict scales a raw feature vector and returns the model's success
// probability in [0, 1].
func (p *Predictor) Predict(features []float64) (float64, error) {
	scaled, err := p.scaler.TransformRow(features)
	if err != nil {
		return 0, err
	}
	return p.net.infer(scaled), nil
}

// FeatureNames returns the input schema in model order.
func (p *Predictor) FeatureNames() []string {
	return append([]string(nil), FeatureColumns...)
}

// Manifest returns the loaded bundle's manifest.
func (p *Predictor) Manifest() Manifest {
	return p.manifest
}
