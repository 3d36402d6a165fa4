package kvddb

import (
	"fmt"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/kvsdk"
)

// remoteError turns a DynamoDB client error into a *kvsdk.RemoteError,
// keeping the HTTP status and the service error code when there is one.
func remoteError(op string, err error) error {
	re := &kvsdk.RemoteError{Op: op}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		re.Status = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		re.Errors = []kvsdk.APIError{{Message: apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()}}
	} else {
		re.Errors = []kvsdk.APIError{{Message: err.Error()}}
	}
	return re
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
