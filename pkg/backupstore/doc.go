/*
Package backupstore reads and writes backup objects on a backup target.

A target is a URL whose scheme picks the driver:

	vfs:///var/lib/burrow-backups     local or NFS mounted directory
	file:///var/lib/burrow-backups    same as vfs
	s3://bucket@us-west-2/some/prefix S3 or an S3 compatible service

S3 endpoint, static credentials and path-style addressing come from the
node configuration rather than the URL. Store wraps a driver with
exponential backoff on every call except streaming puts, and with helpers
for the JSON records kept next to the blocks.
*/
package backupstore
