// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

const (
	vectorRecordPrefix = "vecrec"
	jobRecordPrefix    = "jobrec"

	// namespaceTerminator ends the namespace part of a vector key so that
	// namespace "a" never prefixes namespace "a:b".
	namespaceTerminator = 0x00
)

// makeVectorNamespacePrefix generates the prefix shared by all vectors of a namespace.
// Format: prefix:namespace\x00
func makeVectorNamespacePrefix(namespace string) []byte {
	buf := make([]byte, 0, len(vectorRecordPrefix)+len(namespace)+2)
	buf = append(buf, vectorRecordPrefix...)
	buf = append(buf, ':')
	buf = append(buf, namespace...)
	return append(buf, namespaceTerminator)
}

// makeVectorKey generates a key for a vector record.
// Format: prefix:namespace\x00id
func makeVectorKey(namespace, id string) []byte {
	return append(makeVectorNamespacePrefix(namespace), id...)
}

// makeJobKey generates a key for an ingestion job by ID.
func makeJobKey(id string) []byte {
	return []byte(jobRecordPrefix + ":" + id)
}

// makeJobPrefix generates the prefix shared by all ingestion jobs.
func makeJobPrefix() []byte {
	return []byte(jobRecordPrefix + ":")
}
