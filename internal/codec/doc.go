// Package codec translates between the broker's structured email types and
// the provider's wire representations.
//
// The build path turns a Draft into a base64url-encoded RFC 2822 message:
// plain and HTML bodies become alternative representations inside one
// multipart container, and attachments wrap the whole message in an outer
// multipart/mixed container. The parse path walks a provider message's part
// tree, accumulating text/plain and text/html leaves and recording
// attachment references without fetching their bytes.
package codec
