// Package diabeteskit trains, stores and serves a binary diabetes risk
// classifier.
//
// A training run holds out a seeded random test split, cross-validates every
// candidate of a hyperparameter grid spanning several model families,
// refits the best candidate on the training split and stores it, together
// with its preprocessing and schema, as a timestamped artifact. The
// prediction API always answers from the latest artifact.
//
// # Quick Start
//
//	frame, err := dataset.LoadCSV("diabetes_dataset.csv", schema.Diabetes(), "diabetes")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := artifact.Open("artifacts")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	out, err := training.Run(ctx, training.Options{Store: store}, frame)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Best().Candidate, out.Holdout.AUC)
//
//	b, _ := store.LoadLatest(ctx)
//	res, err := inference.Predict(inference.Payload{"age": 52.0, "hbA1c_level": 6.8, "blood_glucose_level": 155.0}, b)
//
// # Packages
//
//   - schema, dataset: feature schema, CSV loading, splits, synthetic data
//   - preprocessing: imputation, scaling and one-hot encoding per column kind
//   - sklearn/linear_model, sklearn/tree, sklearn/ensemble: model families
//   - sklearn/pipeline, sklearn/registry: preprocessing plus classifier, family lookup
//   - sklearn/model_selection: stratified k-fold grid search
//   - metrics: accuracy, ROC AUC and the ROC curve
//   - artifact: versioned bundles with a SQLite manifest
//   - inference: payload alignment and prediction from the current bundle
//   - training: one end-to-end training run
//   - report: markdown, CSV and ROC plot of each run
//   - server: the HTTP prediction API
//   - pkg/config, pkg/log, pkg/errors: configuration, logging and errors
//
// The diabeteskit command in cmd/diabeteskit wires these together:
//
//	diabeteskit synth -n 5000 -o data.csv
//	diabeteskit train --data data.csv
//	diabeteskit serve --addr :5000
package diabeteskit
