package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldQuery        = "query"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldModelVersion = "model_version"
	FieldClassifier   = "classifier"
	FieldCategory     = "category"
	FieldSource       = "source"
	FieldConfidence   = "confidence"
	FieldIndex        = "index"
	FieldBatchSize    = "batch_size"
	FieldAccuracy     = "accuracy"
	FieldDescription  = "description"
	FieldLocation     = "location"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentPredictor = "predictor"
	ComponentTrainer   = "trainer"
	ComponentStorage   = "storage"
	ComponentDataset   = "dataset"
	ComponentArtifact  = "artifact"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentCache     = "cache"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names
const (
	OpPredict      = "predict"
	OpPredictBatch = "predict_batch"
	OpSummarize    = "summarize"
	OpTrain        = "train"
	OpLoad         = "load"
	OpSave         = "save"
	OpImport       = "import"
	OpValidate     = "validate"
	OpParse        = "parse"
	OpShutdown     = "shutdown"
	OpStartup      = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeData          = "data_error"
	ErrorTypeModel         = "model_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithPrediction adds the outcome of one categorization
func (f LogFields) WithPrediction(category, source string, confidence float64) LogFields {
	f[FieldCategory] = category
	f[FieldSource] = source
	f[FieldConfidence] = confidence
	return f
}

// WithModel adds the serving model identity
func (f LogFields) WithModel(version, classifier string) LogFields {
	f[FieldModelVersion] = version
	f[FieldClassifier] = classifier
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
