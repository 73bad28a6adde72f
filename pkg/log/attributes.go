package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type.
	// Examples: "LogisticRegression", "Preprocessor", "RandomForestClassifier"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "score", "search", "save", "load"
	OperationKey = "ml.operation"

	// ComponentKey identifies the component emitting the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the artifact lifecycle phase.
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	PathKey     = "data.path"
)

// Search and evaluation.
const (
	FoldKey       = "cv.fold"
	FoldsKey      = "cv.folds"
	CandidateKey  = "search.candidate"
	CandidatesKey = "search.candidates"
	FailedKey     = "search.failed"
	ParamsKey     = "search.params"
	ScoringKey    = "search.scoring"
	ScoreKey      = "metrics.score"
	StdKey        = "metrics.std"
	AccuracyKey   = "metrics.accuracy"
	AUCKey        = "metrics.roc_auc"
	LossKey       = "metrics.loss"
	IterationKey  = "training.iteration"
	RandomSeedKey = "config.random_seed"
	DurationMsKey = "perf.duration_ms"
)

// Artifact and serving.
const (
	ArtifactIDKey    = "artifact.id"
	ArtifactCountKey = "artifact.count"
	RunIDKey         = "run.id"
	RequestIDKey     = "http.request_id"
	MethodKey        = "http.method"
	RouteKey         = "http.path"
	StatusKey        = "http.status"
	AddrKey          = "http.addr"
)

// Error context.
const (
	ErrorTypeKey = "error.type"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationScore     = "score"
	OperationSearch    = "search"
	OperationSave      = "save"
	OperationLoad      = "load"

	PhaseUntrained = "untrained"
	PhaseTraining  = "training"
	PhaseValidated = "validated"
	PhasePersisted = "persisted"
	PhaseLoaded    = "loaded"
	PhaseServing   = "serving"
)
