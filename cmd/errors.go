package cmd

import "errors"

var (
	errMissingCAPaths = errors.New("proxy.ca_cert_path and proxy.ca_key_path must be set")
	errNoFiles        = errors.New("at least one input file is required")
)
