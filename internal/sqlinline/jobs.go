package sqlinline

const QCreateJobsTable = `--sql 42210c6f-e8f5-4820-ad26-ecc50e728548
create table if not exists jobs (
    id                   uuid primary key,
    requester_id         text not null,
    prompt               text not null check (char_length(prompt) <= 2000),
    status               text not null check (status in ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED')),
    result_text          text,
    result_artifact_path text,
    error_reason         text,
    created_at           timestamptz not null default now(),
    updated_at           timestamptz not null default now(),
    constraint jobs_result_xor_error check (
        error_reason is null or (result_text is null and result_artifact_path is null)
    )
);
`

const QInsertJob = `--sql a32d8828-43be-44d1-938b-9638d2826165
insert into jobs (id, requester_id, prompt, status, created_at, updated_at)
values ($1::uuid, $2, $3, $4, $5, $5);
`

const QSelectJob = `--sql 9f6903a4-8c01-458f-871d-9589e97425a0
select id::text, requester_id, prompt, status, result_text, result_artifact_path, error_reason, created_at, updated_at
from jobs
where id = $1::uuid;
`

// QTransitionJob moves a job to $2 only while its current status is one of
// $6. The row lock taken by the update serializes concurrent transitions.
const QTransitionJob = `--sql 800550e5-de3b-4137-9e1c-ac4688999cd7
update jobs
set status = $2,
    result_text = $3,
    result_artifact_path = $4,
    error_reason = $5,
    updated_at = now()
where id = $1::uuid
  and status = any($6::text[])
returning id::text, requester_id, prompt, status, result_text, result_artifact_path, error_reason, created_at, updated_at;
`

const QCreateJobsTableSQLite = `--sql 88be8b8c-0f8f-4eca-9299-3693e3d65d1d
create table if not exists jobs (
    id                   text primary key,
    requester_id         text not null,
    prompt               text not null check (length(prompt) <= 2000),
    status               text not null check (status in ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED')),
    result_text          text,
    result_artifact_path text,
    error_reason         text,
    created_at           timestamp not null,
    updated_at           timestamp not null,
    check (error_reason is null or (result_text is null and result_artifact_path is null))
);
`

const QInsertJobSQLite = `--sql 6ede6988-a06c-4696-acc9-fe7aecf2c0de
insert into jobs (id, requester_id, prompt, status, created_at, updated_at)
values (?, ?, ?, ?, ?, ?);
`

const QSelectJobSQLite = `--sql 811b552e-0138-49bd-8868-91850dc803b7
select id, requester_id, prompt, status, result_text, result_artifact_path, error_reason, created_at, updated_at
from jobs
where id = ?;
`

// QTransitionJobSQLite takes the two allowed source states as its last
// arguments; repeat the state when only one applies.
const QTransitionJobSQLite = `--sql 21aced7c-bc69-4c84-9a44-1770ebe31932
update jobs
set status = ?,
    result_text = ?,
    result_artifact_path = ?,
    error_reason = ?,
    updated_at = ?
where id = ?
  and status in (?, ?)
returning id, requester_id, prompt, status, result_text, result_artifact_path, error_reason, created_at, updated_at;
`
