package resources

// EmptyVectorError is returned by MinValue on a vector with no components. It signals a
// programming error and is never retried.
type EmptyVectorError struct{}

func (EmptyVectorError) Error() string {
	return "min value of an empty resource vector is undefined"
}
