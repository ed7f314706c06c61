package config

type WorkerKeyStruct struct {
	PersistSubmissionsQueue string
	PersistIntegrityQueue   string
	FailedSubmissionsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSubmissionsQueue: "persist_submissions_queue",
	PersistIntegrityQueue:   "persist_integrity_queue",
	FailedSubmissionsQueue:  "failed_submissions_queue",
}
