package secrets

import (
	"bytes"
	"context"
	"net/url"
	"os/exec"
	"strings"
)

// SSMResolver resolves SecureString parameters from AWS Systems Manager
// Parameter Store through the aws CLI:
//
//	ssm:///pledge/authority-secret
//	ssm://eu-west-1/pledge/authority-secret
type SSMResolver struct {
	// run executes the aws CLI. Nil uses exec.
	run func(ctx context.Context, args ...string) (stdout, stderr []byte, err error)
}

// Scheme returns "ssm".
func (r *SSMResolver) Scheme() string {
	return "ssm"
}

// Resolve runs `aws ssm get-parameter --with-decryption`.
func (r *SSMResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	region, paramPath, err := parseSSMReference(reference)
	if err != nil {
		return "", err
	}

	args := []string{
		"ssm", "get-parameter",
		"--name", paramPath,
		"--with-decryption",
		"--query", "Parameter.Value",
		"--output", "text",
	}
	if region != "" {
		args = append(args, "--region", region)
	}

	run := r.run
	if run == nil {
		if _, err := exec.LookPath("aws"); err != nil {
			return "", &BackendError{
				Backend: "AWS SSM",
				Reason:  "aws CLI not found in PATH",
				Fix:     "Install from https://aws.amazon.com/cli/ or use an awssm:// reference instead.",
			}
		}
		run = execAWS
	}

	stdout, stderr, err := run(ctx, args...)
	if err != nil {
		return "", parseSSMError(stderr, reference, paramPath)
	}
	return strings.TrimSpace(string(stdout)), nil
}

func execAWS(ctx context.Context, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "aws", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// parseSSMReference splits an ssm:// URI into region and parameter path.
func parseSSMReference(ref string) (region, path string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "invalid URI"}
	}
	if u.Scheme != "ssm" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "expected ssm:// scheme"}
	}
	if u.Path == "" || u.Path[0] != '/' {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "parameter path must start with /"}
	}
	return u.Host, u.Path, nil
}

var ssmErrors = []struct {
	marker string
	reason string
	fix    func(paramPath string) string
}{
	{"AccessDeniedException", "access denied", func(p string) string {
		return "Check IAM permissions for ssm:GetParameter on " + p
	}},
	{"ExpiredToken", "AWS credentials expired", func(string) string {
		return "Run: aws sso login"
	}},
	{"Unable to locate credentials", "no AWS credentials found", func(string) string {
		return "Run: aws configure, or set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY"
	}},
	{"Could not connect to the endpoint URL", "could not connect to AWS endpoint", func(string) string {
		return "Check the region in the reference and network connectivity."
	}},
}

func parseSSMError(stderr []byte, reference, paramPath string) error {
	msg := string(stderr)
	if strings.Contains(msg, "ParameterNotFound") {
		return &NotFoundError{Reference: reference, Backend: "AWS SSM"}
	}
	for _, e := range ssmErrors {
		if strings.Contains(msg, e.marker) {
			return &BackendError{Backend: "AWS SSM", Reference: reference, Reason: e.reason, Fix: e.fix(paramPath)}
		}
	}
	return &BackendError{Backend: "AWS SSM", Reference: reference, Reason: strings.TrimSpace(msg)}
}

func init() {
	Register(&SSMResolver{})
}
