package core

// Environment variable names, all under this runtime's own ORCH_* prefix.
const (
	EnvPort      = "ORCH_PORT"
	EnvDevMode   = "ORCH_DEV_MODE"
	EnvNamespace = "ORCH_NAMESPACE"

	EnvModelProvider   = "ORCH_MODEL_PROVIDER" // "openai" (default) or "bedrock"
	EnvModelEndpoint   = "ORCH_MODEL_ENDPOINT"
	EnvModelAPIKey     = "ORCH_MODEL_API_KEY"
	EnvModelName       = "ORCH_MODEL_NAME"
	EnvModelDeployment = "ORCH_MODEL_DEPLOYMENT"  // Azure OpenAI deployment name
	EnvModelAPIVersion = "ORCH_MODEL_API_VERSION" // Azure OpenAI api-version

	EnvAgentBaseURLs = "ORCH_AGENT_BASE_URLS" // comma-separated specialist base URLs
	EnvAgentsFile    = "ORCH_AGENTS_FILE"     // optional YAML roster file

	EnvMaxConcurrentRequests = "ORCH_MAX_CONCURRENT_REQUESTS"
	EnvRequestsPerMinute     = "ORCH_REQUESTS_PER_MINUTE"
	EnvTokensPerMinute       = "ORCH_TOKENS_PER_MINUTE"
	EnvMinRequestInterval    = "ORCH_MIN_REQUEST_INTERVAL_MS"

	EnvMaxRetries            = "ORCH_MAX_RETRIES"
	EnvInitialBackoffSeconds = "ORCH_INITIAL_BACKOFF_SECONDS"
	EnvMaxBackoffSeconds     = "ORCH_MAX_BACKOFF_SECONDS"

	EnvCircuitFailureThreshold = "ORCH_CIRCUIT_BREAKER_FAILURE_THRESHOLD"
	EnvCircuitRecoveryTimeout  = "ORCH_CIRCUIT_BREAKER_RECOVERY_TIMEOUT"
	EnvCircuitSuccessThreshold = "ORCH_CIRCUIT_BREAKER_SUCCESS_THRESHOLD"

	EnvMaxResearchRounds = "ORCH_MAX_RESEARCH_ROUNDS"

	EnvTelemetryEnabled     = "ORCH_TELEMETRY_ENABLED"
	EnvTelemetryEndpoint    = "ORCH_TELEMETRY_ENDPOINT"
	EnvTelemetryServiceName = "ORCH_TELEMETRY_SERVICE_NAME"

	EnvRedisURL = "ORCH_REDIS_URL" // optional, for distributed RateState/HistorySink
)
