package domain

import "context"

// Unclassified is the class used when neither rules nor the AI produced one.
const Unclassified = "unclassified"

// Prediction is an AI classifier answer.
type Prediction struct {
	Class      string
	Confidence float64
}

// ClassifierInput is the text an AI classifier sees for one entity.
type ClassifierInput struct {
	EntityType string
	Sender     string
	Subject    string
	Content    string
	// Categories lists the classes the model should choose from; empty means free-form.
	Categories []string
}

// Classifier assigns a class to business content.
type Classifier interface {
	Classify(ctx context.Context, in ClassifierInput) (Prediction, error)
}
