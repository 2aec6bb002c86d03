// ABOUTME: Audio source package for the publishing server
// ABOUTME: File, HTTP and resampled sources behind publisher.Source
// Package source opens audio for publishing. Files loop at their end, HTTP
// streams end with the response, and Open resamples to the track rate when
// asked.
package source
