package errors

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeConfigValidation Code = "CONFIG_VALIDATION_ERROR"
	CodeConfigReadError  Code = "CONFIG_READ_ERROR"
	CodeConfigParseError Code = "CONFIG_PARSE_ERROR"

	CodeBackendError    Code = "BACKEND_ERROR"
	CodeBackendNotEmpty Code = "BACKEND_STATE_NOT_EMPTY"
	CodeStateReadError  Code = "STATE_READ_ERROR"
	CodeStateParseError Code = "STATE_PARSE_ERROR"
	CodeCloudAPIError   Code = "CLOUD_API_ERROR"
	CodeCloudAuthError  Code = "CLOUD_AUTH_ERROR"
	CodeObjectNotFound  Code = "OBJECT_NOT_FOUND"

	CodeHandlerError    Code = "HANDLER_ERROR"
	CodeHandlerNotReady Code = "HANDLER_NOT_READY"

	CodeTerraformError   Code = "TERRAFORM_ERROR"
	CodeTerraformVersion Code = "TERRAFORM_VERSION_ERROR"
	CodePlanError        Code = "PLAN_ERROR"
	CodeFetchError       Code = "FETCH_ERROR"
	CodeGenerateError    Code = "GENERATE_ERROR"
	CodeTimeout          Code = "TIMEOUT_ERROR"
)

func (c Code) String() string {
	return string(c)
}
