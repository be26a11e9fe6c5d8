/*
Package types defines the persisted entities shared across the job engine:
Queue, PrimaryJob, AncillaryJob, Worker, Scan, Host, Port, Domain, and
SSLCertificate, plus their status/type enums. These are plain structs with
string-typed enums as const blocks, matching how the Store persists and the
CLI renders them.

PrimaryJob is a top-level scan request (masscan/nmap/custom); AncillaryJob is
a per-discovery follow-up (banner_grab/ssl_cert/domain_enum/geolocation/
service_detection/vulnerability_scan) fanned out as the discovery pipeline
walks a primary job's output. Both share the same status machine: pending ->
queued -> running -> (completed | failed | cancelled | retrying -> pending).
*/
package types
