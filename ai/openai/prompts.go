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


package openai

const answerSystemPrompt = `You answer questions using only the numbered passages supplied with each question.
The passages come from a team's Scrapbox wiki.

Rules:
- Answer in the language of the question.
- Cite passages inline with their numbers in square brackets, e.g. [1] or [2][3].
- If the passages do not contain the answer, say that you could not find it. Do not guess.
- Keep the answer short; prefer a few sentences or a compact list.
- Do not include any preamble, greeting, or restatement of the question.`
